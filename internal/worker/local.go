// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// EncodeQueue - 单工作者 FFmpeg 转码队列

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZSC714725/encodequeue/internal/job"
)

var ErrUnsupportedSource = errors.New("unsupported source kind")

type progressReader struct {
	ctx   context.Context
	r     io.Reader
	read  float64
	total float64
	fn    ProgressFunc
}

// NewProgressReader reports every read to fn and fails once ctx is done
func NewProgressReader(ctx context.Context, r io.Reader, total float64, fn ProgressFunc) io.Reader {
	return &progressReader{ctx: ctx, r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	p.read += float64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.read, p.total)
	}
	return n, err
}

// LocalFiles fetches sources from and delivers artifacts to the local
// filesystem. It serves jobs submitted through the operator API.
type LocalFiles struct {
	// OutputDir receives delivered artifacts
	OutputDir string
	// Allow is consulted before reading a source path. nil allows all.
	Allow func(path string) bool
}

func (l *LocalFiles) Fetch(ctx context.Context, ref job.SourceRef, dir string, progress ProgressFunc) (string, error) {
	if ref.Kind != job.SourceFile {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSource, ref.Kind)
	}
	if l.Allow != nil && !l.Allow(ref.Locator) {
		return "", fmt.Errorf("source %s is not allowed", ref.Locator)
	}

	name := filepath.Base(ref.Locator)
	if ref.Name != "" {
		name = filepath.Base(ref.Name)
	}
	dst, err := os.CreateTemp(dir, "*_"+name)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if err := copyFile(ctx, ref.Locator, dst, progress); err != nil {
		return "", err
	}
	return dst.Name(), dst.Close()
}

func (l *LocalFiles) Deliver(ctx context.Context, spec job.Spec, artifact string, progress ProgressFunc) (string, error) {
	if err := os.MkdirAll(l.OutputDir, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(l.OutputDir, spec.ID+"_"+filepath.Base(artifact))
	dst, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if err := copyFile(ctx, artifact, dst, progress); err != nil {
		os.Remove(target)
		return "", err
	}
	return target, dst.Close()
}

func copyFile(ctx context.Context, src string, dst io.Writer, progress ProgressFunc) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, NewProgressReader(ctx, f, float64(fi.Size()), progress))
	return err
}

// Router dispatches fetches by source kind and deliveries by the kind of
// the job's primary source.
type Router struct {
	Fetchers   map[job.SourceKind]Fetcher
	Deliverers map[job.SourceKind]Deliverer
}

func (r *Router) Fetch(ctx context.Context, ref job.SourceRef, dir string, progress ProgressFunc) (string, error) {
	f, ok := r.Fetchers[ref.Kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSource, ref.Kind)
	}
	return f.Fetch(ctx, ref, dir, progress)
}

func (r *Router) Deliver(ctx context.Context, spec job.Spec, artifact string, progress ProgressFunc) (string, error) {
	d, ok := r.Deliverers[spec.Source.Kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSource, spec.Source.Kind)
	}
	return d.Deliver(ctx, spec, artifact, progress)
}
