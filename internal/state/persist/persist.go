package persist

import (
	"encoding"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/crop2cloud/logger-lora/log2"
	"github.com/juju/errors"
	"github.com/temoto/extremofile"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type storage interface {
	Read() ([]byte, error)
	io.Writer
}

// Binds Stater{Load,Store} to crash-safe file storage.
// Disabled Persist is valid, Load and Store do nothing.
type Persist struct {
	sync.Mutex
	log     *log2.Log
	tag     string
	target  Stater
	dir     string
	storage storage
}

func (p *Persist) Init(tag string, target Stater, root string, enabled bool, log *log2.Log) error {
	p.tag = tag
	p.log = log
	if target == nil {
		panic("code error persist target nil")
	}
	p.target = target
	if !enabled {
		p.log.Debugf("persist %s disabled", p.tag)
		return nil
	}
	if root == "" {
		return errors.NotValidf("persist %s enabled but root=empty", p.tag)
	}
	p.dir = filepath.Join(root, tag)
	p.open()
	return nil
}

func (p *Persist) open() {
	p.storage = extremofile.New(extremofile.Config{
		Dir:      p.dir,
		DirPerm:  0755,
		FilePerm: 0644,
	})
}

// Reset drops stored data, including backup copy. Target is not changed.
func (p *Persist) Reset() error {
	if p.storage == nil {
		return nil
	}
	p.Lock()
	defer p.Unlock()
	if err := os.RemoveAll(p.dir); err != nil {
		return errors.Annotatef(err, "persist %s Reset", p.tag)
	}
	p.open()
	return nil
}
