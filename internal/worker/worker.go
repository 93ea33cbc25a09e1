// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sqlcheck/sqlcheck/internal/wlog"
)

// requestTimeout bounds a single request's round-trip against the shadow
// database. Cancellation is observed only between atomic steps (never
// mid-transaction, §5 "Cancellation"), so this is a generous ceiling rather
// than a tight budget.
const requestTimeout = 2 * time.Minute

// Run drains length-prefixed JSON frames from in, dispatches each to sess,
// and writes the response to out, until in is exhausted, an END request is
// served, or ctx is cancelled. A single goroutine processes one request at
// a time by construction: there is no concurrent call into sess (§4.9, §5
// "single-writer").
func Run(ctx context.Context, sess *Session, in io.Reader, out io.Writer, log wlog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var req Request
		if err := ReadFrame(in, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		resp := sess.Handle(reqCtx, req)
		cancel()

		if err := WriteFrame(out, resp); err != nil {
			return err
		}

		if req.Tag == TagEnd {
			return nil
		}

		log.Debugf("served request", "tag", req.Tag)
	}
}
