// Package utils holds small helpers shared by the cryptsync client and CLI.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LogInterceptor prefixes every complete line written through it with a sequence
// number and a timestamp before handing it to the target writer.
// Partial lines are held back until their newline arrives or Close is called.
type LogInterceptor struct {
	target io.Writer
	mu     sync.Mutex
	seq    uint64
	buf    bytes.Buffer
	now    func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.buf.Write(p)
	for {
		idx := bytes.IndexByte(i.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(i.buf.Next(idx+1), "\r\n")
		if err := i.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line and closes the target when it is closable.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.buf.Len() > 0 {
		line := bytes.Clone(i.buf.Bytes())
		i.buf.Reset()
		if err := i.writeLine(line); err != nil {
			return err
		}
	}

	if c, ok := i.target.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++
	var out bytes.Buffer
	out.WriteString(slog.Uint64("line", i.seq).String())
	out.WriteByte(' ')
	out.WriteString(slog.String("time", i.now().Format(time.RFC3339)).String())
	out.WriteByte(' ')
	out.Write(line)
	out.WriteByte('\n')
	_, err := i.target.Write(out.Bytes())
	return err
}
