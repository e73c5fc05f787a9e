package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	y4mMagic       = "YUV4MPEG2"
	y4mFrameMarker = "FRAME"
	// longest header line accepted, parameters included
	y4mMaxLine = 1024
)

// Y4MHeader holds the stream parameters of a Y4M file that matter for I420
// frames. Unknown parameters are ignored.
type Y4MHeader struct {
	Width       int
	Height      int
	FrameRate   Rational
	Colorspace  string
	Interlacing string
}

type Rational struct {
	Numerator   int
	Denominator int
}

// is420 reports whether the colorspace stores 4:2:0 planes with 8 bit
// samples. A missing colorspace defaults to 420jpeg.
func (h Y4MHeader) is420() bool {
	switch h.Colorspace {
	case "", "420", "420jpeg", "420mpeg2", "420paldv":
		return true
	}
	return false
}

// y4mReader splits a Y4M stream into its header and raw frames.
type y4mReader struct {
	r         *bufio.Reader
	header    Y4MHeader
	frameSize int
	buf       []byte
}

func newY4MReader(r io.Reader) (*y4mReader, error) {
	br := bufio.NewReader(r)
	line, err := readY4MLine(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read y4m header: %w", err)
	}
	header, err := parseY4MHeader(line)
	if err != nil {
		return nil, err
	}
	return &y4mReader{
		r:         br,
		header:    header,
		frameSize: I420Size(header.Width, header.Height),
	}, nil
}

func parseY4MHeader(line string) (Y4MHeader, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != y4mMagic {
		return Y4MHeader{}, errors.New("not a y4m stream")
	}
	var h Y4MHeader
	for _, f := range fields[1:] {
		value := f[1:]
		var err error
		switch f[0] {
		case 'W':
			h.Width, err = strconv.Atoi(value)
		case 'H':
			h.Height, err = strconv.Atoi(value)
		case 'F':
			h.FrameRate, err = parseRational(value)
		case 'C':
			h.Colorspace = value
		case 'I':
			h.Interlacing = value
		}
		if err != nil {
			return Y4MHeader{}, fmt.Errorf("invalid y4m header parameter %q: %w", f, err)
		}
	}
	if h.Width <= 0 || h.Height <= 0 {
		return Y4MHeader{}, fmt.Errorf("invalid y4m frame size %vx%v", h.Width, h.Height)
	}
	if h.FrameRate.Numerator <= 0 || h.FrameRate.Denominator <= 0 {
		return Y4MHeader{}, fmt.Errorf("invalid y4m frame rate %v:%v", h.FrameRate.Numerator, h.FrameRate.Denominator)
	}
	return h, nil
}

func parseRational(s string) (Rational, error) {
	num, den, ok := strings.Cut(s, ":")
	if !ok {
		return Rational{}, errors.New("missing ':'")
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return Rational{}, err
	}
	d, err := strconv.Atoi(den)
	if err != nil {
		return Rational{}, err
	}
	return Rational{Numerator: n, Denominator: d}, nil
}

// readFrame returns the planes of the next frame. The returned slice is
// reused by the next call. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF for a truncated frame.
func (r *y4mReader) readFrame() ([]byte, error) {
	line, err := readY4MLine(r.r)
	if err != nil {
		return nil, err
	}
	if marker, _, _ := strings.Cut(line, " "); marker != y4mFrameMarker {
		return nil, fmt.Errorf("invalid y4m frame header %q", line)
	}
	if cap(r.buf) < r.frameSize {
		r.buf = make([]byte, r.frameSize)
	}
	r.buf = r.buf[:r.frameSize]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return r.buf, nil
}

func readY4MLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > y4mMaxLine {
			return "", errors.New("y4m header line too long")
		}
		if !isPrefix {
			return string(bytes.TrimRight(line, "\r")), nil
		}
	}
}
