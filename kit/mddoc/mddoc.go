// Package mddoc loads markdown documents with frontmatter on first use and
// keeps the rendered result until the document is reset.
package mddoc

import (
	"bytes"
	"fmt"
	"io/fs"
	"maps"

	"github.com/adrg/frontmatter"
	"github.com/river-now/lazycell/kit/lazycell"
	"github.com/russross/blackfriday/v2"
)

const extensions = blackfriday.AutoHeadingIDs | blackfriday.CommonExtensions

type Page struct {
	Meta map[string]any
	Body []byte // Markdown source without frontmatter
	HTML []byte
}

func (p *Page) clone() *Page {
	return &Page{
		Meta: maps.Clone(p.Meta),
		Body: bytes.Clone(p.Body),
		HTML: p.HTML,
	}
}

type Doc struct {
	fsys fs.FS
	path string
	page *lazycell.Cell[*Page]
}

func New(fsys fs.FS, path string) *Doc {
	d := &Doc{fsys: fsys, path: path}
	d.page = lazycell.NewWithError(d.build)
	return d
}

func (d *Doc) build() (*Page, error) {
	f, err := d.fsys.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", d.path, err)
	}
	defer f.Close()

	meta := map[string]any{}
	body, err := frontmatter.Parse(f, &meta)
	if err != nil {
		return nil, fmt.Errorf("error parsing frontmatter in %s: %w", d.path, err)
	}
	return &Page{Meta: meta, Body: body, HTML: render(body)}, nil
}

func render(md []byte) []byte {
	return blackfriday.Run(md, blackfriday.WithExtensions(extensions))
}

// Load returns the page, reading and rendering it on first use. The
// returned page must be treated as read-only; use Edit to change it.
func (d *Doc) Load() (*Page, error) {
	return d.page.Read()
}

func (d *Doc) Path() string { return d.path }

// Edit applies fn to a copy of the page, re-renders its body and stores the
// copy. The copy is stored even if fn fails, matching Cell.Mutate.
func (d *Doc) Edit(fn func(p *Page) error) error {
	return d.page.Mutate(func(p **Page) error {
		next := (*p).clone()
		err := fn(next)
		next.HTML = render(next.Body)
		*p = next
		return err
	})
}

// Reset drops the cached page so the next Load reads the file again.
func (d *Doc) Reset() {
	d.page.Reset()
}
