package codec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mengelbart/camloop"
)

// Y4MSink writes decoded frames to a Y4M stream. It implements
// camloop.FrameSink. Paint cannot return errors, the first write error is
// kept and returned by Err and Close. Frames after an error are discarded.
type Y4MSink struct {
	lock          sync.Mutex
	w             *bufio.Writer
	c             io.Closer
	headerWritten bool
	width         int
	height        int
	fpsNum        int
	fpsDen        int
	buf           []byte
	frames        int
	err           error
}

func NewY4MSink(w io.Writer, fpsNum, fpsDen int) *Y4MSink {
	s := &Y4MSink{
		w:      bufio.NewWriter(w),
		fpsNum: fpsNum,
		fpsDen: fpsDen,
	}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

// CreateY4MSink creates the file at filePath and writes frames to it.
func CreateY4MSink(filePath string, fpsNum, fpsDen int) (*Y4MSink, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	return NewY4MSink(file, fpsNum, fpsDen), nil
}

func (s *Y4MSink) Paint(frame *camloop.DecodedFrame) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.err != nil {
		return
	}
	s.err = s.write(frame)
}

func (s *Y4MSink) write(frame *camloop.DecodedFrame) error {
	img := frame.Image
	width, height := img.Rect.Dx(), img.Rect.Dy()
	if !s.headerWritten {
		// Y4M header: YUV4MPEG2 W<width> H<height> F<fps_num>:<fps_den> Ip A<aspect> C<colorspace>
		header := fmt.Sprintf("YUV4MPEG2 W%d H%d F%d:%d Ip A0:0 C420jpeg\n", width, height, s.fpsNum, s.fpsDen)
		if _, err := s.w.WriteString(header); err != nil {
			return err
		}
		s.width, s.height = width, height
		s.headerWritten = true
	}
	if width != s.width || height != s.height {
		return fmt.Errorf("frame size changed from %vx%v to %vx%v", s.width, s.height, width, height)
	}

	// frame header
	if _, err := s.w.WriteString("FRAME\n"); err != nil {
		return err
	}
	s.buf = CopyI420(s.buf, img)
	if _, err := s.w.Write(s.buf); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written.
func (s *Y4MSink) Frames() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frames
}

func (s *Y4MSink) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Close flushes buffered frames and closes the underlying writer if it is an
// io.Closer.
func (s *Y4MSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	err := s.w.Flush()
	if s.err == nil {
		s.err = err
	}
	if s.c != nil {
		if cerr := s.c.Close(); s.err == nil {
			s.err = cerr
		}
		s.c = nil
	}
	return s.err
}
