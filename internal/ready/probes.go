package ready

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TCPProbe is ready once a connection to Addr succeeds.
type TCPProbe struct {
	Addr string
}

// TCP returns a probe for a listening TCP address.
func TCP(addr string) *TCPProbe {
	return &TCPProbe{Addr: addr}
}

func (p *TCPProbe) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *TCPProbe) String() string { return "tcp://" + p.Addr }

// HTTPProbe is ready once URL answers with a status below 500.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// HTTP returns a probe that issues GET requests to url.
func HTTP(url string) *HTTPProbe {
	return &HTTPProbe{
		URL:    url,
		Client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %s", p.URL, resp.Status)
	}
	return nil
}

func (p *HTTPProbe) String() string { return p.URL }

// FileProbe is ready once Path exists. It watches the parent directory so
// creation is noticed without waiting for the next poll. The file counts as
// ready the moment it appears, so a backend that puts content in it must
// write a temporary file and rename it to Path.
type FileProbe struct {
	Path string

	once    sync.Once
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
	wake    chan struct{}
}

// File returns a probe for a readiness file.
func File(path string) *FileProbe {
	return &FileProbe{
		Path: filepath.Clean(path),
		wake: make(chan struct{}, 1),
	}
}

func (p *FileProbe) Check(ctx context.Context) error {
	_, err := os.Stat(p.Path)
	return err
}

func (p *FileProbe) String() string { return "file://" + p.Path }

// Wake implements Waker. The watch starts on first use; if the directory
// can't be watched the channel just never fires and polling still works.
func (p *FileProbe) Wake() <-chan struct{} {
	p.once.Do(p.watch)
	return p.wake
}

func (p *FileProbe) watch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(filepath.Dir(p.Path)); err != nil {
		w.Close()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		w.Close()
		return
	}
	p.watcher = w
	p.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != p.Path {
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
					select {
					case p.wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Close stops the directory watch, if any.
func (p *FileProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}
