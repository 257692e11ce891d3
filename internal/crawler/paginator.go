package crawler

import (
	"context"
	"fmt"
)

// PageFunc fetches one page of records. Pages start at 1.
type PageFunc func(ctx context.Context, page, pageSize int) ([]SourceRecord, error)

// Page is one non-empty batch returned by the paginator.
type Page struct {
	Number  int
	Records []SourceRecord
}

// Paginator walks a page-numbered listing until it returns an empty page.
// It is not safe for concurrent use.
type Paginator struct {
	fetch     PageFunc
	pageSize  int
	next      int
	exhausted bool
}

// NewPaginator builds a paginator starting at startPage (minimum 1).
func NewPaginator(fetch PageFunc, pageSize, startPage int) *Paginator {
	if startPage < 1 {
		startPage = 1
	}
	return &Paginator{fetch: fetch, pageSize: pageSize, next: startPage}
}

// Next fetches the next page. It returns ErrExhausted once an empty page has
// been seen and never calls fetch again after that. A failed fetch leaves the
// cursor in place so the same page can be requested again.
func (p *Paginator) Next(ctx context.Context) (Page, error) {
	if p.exhausted {
		return Page{}, ErrExhausted
	}
	records, err := p.fetch(ctx, p.next, p.pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("fetch page %d: %w", p.next, err)
	}
	if len(records) == 0 {
		p.exhausted = true
		return Page{}, ErrExhausted
	}
	page := Page{Number: p.next, Records: records}
	p.next++
	return page, nil
}

// NextPage returns the page number the next call to Next will request.
func (p *Paginator) NextPage() int {
	return p.next
}

// Exhausted reports whether the end of the stream was reached.
func (p *Paginator) Exhausted() bool {
	return p.exhausted
}

// Reset rewinds the paginator to page and clears the exhausted flag.
func (p *Paginator) Reset(page int) {
	if page < 1 {
		page = 1
	}
	p.next = page
	p.exhausted = false
}
