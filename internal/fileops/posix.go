package fileops

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/blocktree/store/internal/storeerr"
)

const posixVersion = 2

// posixFileOps is the default FileOps backend: a real file descriptor with
// pread/pwrite/fsync, each retried across EINTR exactly the way
// original_source/src/os.c's couch_pread/couch_pwrite/couch_sync do, plus a
// best-effort fadvise that is called once.
type posixFileOps struct {
	f *os.File
}

// NewPOSIX returns a FileOps implementation backed by the host's file
// system, matching couch_get_default_file_ops.
func NewPOSIX() FileOps {
	return &posixFileOps{}
}

func (p *posixFileOps) Version() int { return posixVersion }

func (p *posixFileOps) Open(path string, flag OpenFlag) error {
	oflag := os.O_RDWR
	if flag == OpenCreate {
		oflag |= os.O_CREATE
	}
	var f *os.File
	var err error
	for {
		f, err = os.OpenFile(path, oflag, 0o666)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storeerr.New(storeerr.OpenFile, "open", err)
		}
		return storeerr.New(storeerr.OpenFile, "open", err)
	}
	p.f = f
	return nil
}

func (p *posixFileOps) Close() error {
	if p.f == nil {
		return nil
	}
	err := p.f.Close()
	p.f = nil
	return err
}

func (p *posixFileOps) Pread(buf []byte, off int64) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := p.f.ReadAt(buf[n:], off+int64(n))
		n += m
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return n, storeerr.New(storeerr.Read, "pread", err)
		}
		if m == 0 {
			break
		}
	}
	if n < len(buf) {
		return n, storeerr.New(storeerr.Read, "pread", xerrors.New("short read"))
	}
	return n, nil
}

func (p *posixFileOps) Pwrite(buf []byte, off int64) (int, error) {
	n := 0
	for n < len(buf) {
		fd := int(p.f.Fd())
		m, err := unix.Pwrite(fd, buf[n:], off+int64(n))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return n, storeerr.New(storeerr.Write, "pwrite", err)
		}
		n += m
	}
	return n, nil
}

func (p *posixFileOps) GotoEOF() (int64, error) {
	off, err := p.f.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, storeerr.New(storeerr.Read, "goto_eof", err)
	}
	return off, nil
}

func (p *posixFileOps) Sync() error {
	if err := p.f.Sync(); err != nil {
		return storeerr.New(storeerr.Write, "sync", err)
	}
	return nil
}

func (p *posixFileOps) Advise(off, length int64, advice Advice) error {
	var hint int
	switch advice {
	case AdviceDontNeed:
		hint = unix.FADV_DONTNEED
	case AdviceSequential:
		hint = unix.FADV_SEQUENTIAL
	default:
		hint = unix.FADV_NORMAL
	}
	// Best-effort, matching couch_advise: failures here are not fatal to
	// the caller, the OS simply keeps its default access pattern.
	_ = unix.Fadvise(int(p.f.Fd()), off, length, hint)
	return nil
}
