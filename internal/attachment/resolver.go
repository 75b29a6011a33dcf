package attachment

import (
	"context"
	"errors"
	"fmt"
)

// SizePolicy is the attachment-inclusion strategy used to keep a composed
// message under its byte ceiling.
type SizePolicy string

const (
	// PolicyLimit keeps as many whole attachments as fit, skipping each one
	// that would push the running total over the budget.
	PolicyLimit SizePolicy = "limit"
	// PolicyFirst keeps attachments in resolution order and stops entirely
	// at the first one that would exceed the budget; it and everything after
	// it are discarded without being downloaded.
	PolicyFirst SizePolicy = "first"
)

// ErrContentTooLarge is returned when the size policy cannot bring the
// composed message under the byte ceiling. It is terminal; the request is
// reported as a delivery failure and never retried.
var ErrContentTooLarge = errors.New("composed message exceeds size budget")

// Resolved is an attachment reference together with its downloaded content.
// Content is resolved lazily per send attempt and never cached across
// attempts.
type Resolved struct {
	Ref         string
	ContentType string
	Content     []byte
	Size        int64
}

// Resolver resolves attachment references against a Store.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// CheckExistence performs a metadata-only lookup per reference. Any missing
// reference fails the whole call with ErrUnavailable; other storage errors
// surface as-is.
func (r *Resolver) CheckExistence(ctx context.Context, refs []string, clientID string) error {
	for _, ref := range refs {
		if _, err := r.store.Stat(ctx, ref, clientID); err != nil {
			return err
		}
	}
	return nil
}

// ContentIter lazily downloads attachments one reference at a time, so
// size-policy enforcement can short-circuit without downloading attachments
// that will be discarded.
type ContentIter struct {
	resolver *Resolver
	ctx      context.Context
	refs     []string
	clientID string
	pos      int
}

// Content returns a lazy iterator over the referenced attachments' content.
func (r *Resolver) Content(ctx context.Context, refs []string, clientID string) *ContentIter {
	return &ContentIter{resolver: r, ctx: ctx, refs: refs, clientID: clientID}
}

// Next downloads and returns the next attachment. ok is false when the
// references are exhausted.
func (it *ContentIter) Next() (res Resolved, ok bool, err error) {
	if it.pos >= len(it.refs) {
		return Resolved{}, false, nil
	}
	ref := it.refs[it.pos]
	it.pos++

	info, err := it.resolver.store.Stat(it.ctx, ref, it.clientID)
	if err != nil {
		return Resolved{}, false, err
	}
	data, err := it.resolver.store.Download(it.ctx, ref, it.clientID)
	if err != nil {
		return Resolved{}, false, err
	}

	return Resolved{
		Ref:         ref,
		ContentType: info.ContentType,
		Content:     data,
		Size:        int64(len(data)),
	}, true, nil
}

// Peek returns the size of the next attachment without downloading it, using
// a metadata-only lookup. ok is false when the references are exhausted.
func (it *ContentIter) Peek() (size int64, ok bool, err error) {
	if it.pos >= len(it.refs) {
		return 0, false, nil
	}
	info, err := it.resolver.store.Stat(it.ctx, it.refs[it.pos], it.clientID)
	if err != nil {
		return 0, false, err
	}
	return info.ContentLength, true, nil
}

// skip advances past the next reference without downloading it.
func (it *ContentIter) skip() {
	if it.pos < len(it.refs) {
		it.pos++
	}
}

// ApplySizePolicy pulls attachments from the iterator and keeps those
// admitted by the policy, so that baseSize plus the kept attachments stays
// strictly under maxBytes. A baseSize already at or over the budget is
// ErrContentTooLarge: no policy can mitigate it.
func ApplySizePolicy(it *ContentIter, policy SizePolicy, baseSize, maxBytes int64) ([]Resolved, error) {
	if maxBytes <= 0 {
		// No ceiling configured: keep everything.
		return drain(it)
	}
	if baseSize >= maxBytes {
		return nil, fmt.Errorf("%w: base message is %d bytes, budget %d", ErrContentTooLarge, baseSize, maxBytes)
	}

	var kept []Resolved
	total := baseSize

	for {
		size, ok, err := it.Peek()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		if total+size >= maxBytes {
			switch policy {
			case PolicyFirst:
				// Stop at the first attachment that would exceed the budget.
				return kept, nil
			default: // PolicyLimit
				it.skip()
				continue
			}
		}

		res, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		// The metadata size is advisory; re-check with the real byte count.
		if total+res.Size >= maxBytes {
			if policy == PolicyFirst {
				return kept, nil
			}
			continue
		}

		kept = append(kept, res)
		total += res.Size
	}

	return kept, nil
}

// drain downloads every remaining attachment.
func drain(it *ContentIter) ([]Resolved, error) {
	var all []Resolved
	for {
		res, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return all, nil
		}
		all = append(all, res)
	}
}
