package dms

import (
	"context"

	"github.com/noah-isme/immigration-dms-api/internal/models"
)

// Page is one batch of descriptors plus the cursor for the next batch. An
// empty Next ends the listing.
type Page struct {
	Documents []models.ExternalDocument
	Next      string
}

// PageFetcher loads the page addressed by cursor. The empty cursor is the first page.
type PageFetcher func(ctx context.Context, cursor string) (Page, error)

// Iterator walks a paged listing one descriptor at a time, holding at most one
// page in memory.
type Iterator struct {
	fetch  PageFetcher
	cursor string
	buf    []models.ExternalDocument
	cur    models.ExternalDocument
	err    error
	done   bool
	pages  int
}

// NewIterator constructs an iterator over fetch.
func NewIterator(fetch PageFetcher) *Iterator {
	return &Iterator{fetch: fetch}
}

// Next advances to the next descriptor. It returns false at the end of the
// listing or on error; check Err afterwards.
func (it *Iterator) Next(ctx context.Context) bool {
	for len(it.buf) == 0 {
		if it.done || it.err != nil {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, err := it.fetch(ctx, it.cursor)
		if err != nil {
			it.err = err
			return false
		}
		it.pages++
		it.buf = page.Documents
		if page.Next == "" || page.Next == it.cursor {
			it.done = true
		}
		it.cursor = page.Next
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Document returns the current descriptor.
func (it *Iterator) Document() models.ExternalDocument { return it.cur }

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error { return it.err }

// Pages returns the number of pages fetched successfully so far.
func (it *Iterator) Pages() int { return it.pages }
