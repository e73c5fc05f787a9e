package subcmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/cmdmain"
	"github.com/mengelbart/camloop/gstreamer"
	"github.com/mengelbart/camloop/vpx"
)

func init() {
	cmdmain.RegisterSubCmd("version", func() cmdmain.SubCmd { return new(Version) })
}

type Version struct{}

type buildVersion struct {
	path      string
	version   string
	commit    string
	built     string
	goVersion string
}

func readBuildVersion() buildVersion {
	v := buildVersion{
		version:   "(devel)",
		goVersion: runtime.Version(),
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	v.path = info.Main.Path
	if info.Main.Version != "" {
		v.version = info.Main.Version
	}
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.commit = s.Value
		case "vcs.time":
			v.built = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty {
		v.commit += "+dirty"
	}
	return v
}

func (v buildVersion) write(w io.Writer, libvpx, gst string) {
	fmt.Fprintf(w, "%s %s\n", v.path, v.version)
	fmt.Fprintf(w, "  commit:    %s\n", v.commit)
	fmt.Fprintf(w, "  built:     %s\n", v.built)
	fmt.Fprintf(w, "  go:        %s\n", v.goVersion)
	fmt.Fprintf(w, "  codecs:    %s, %s\n", camloop.VP8, camloop.VP9)
	fmt.Fprintf(w, "  libvpx:    %s\n", libvpx)
	fmt.Fprintf(w, "  gstreamer: %s\n", gst)
}

// Exec implements cmdmain.SubCmd.
func (v *Version) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	short := fs.Bool("short", false, "Print the module version only")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print the camloop version and the versions of the linked codec and capture libraries

Usage:
	%s version [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	bv := readBuildVersion()
	if *short {
		fmt.Fprintln(os.Stdout, bv.version)
		return nil
	}
	bv.write(os.Stdout, vpx.Version(), gstreamer.Version())
	return nil
}

// Help implements cmdmain.SubCmd.
func (v *Version) Help() string {
	return "Print version information"
}
