package rrio_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-rrio"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "network failure" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

var _ net.Error = (*fakeNetError)(nil)

var _ = Describe("Errors", func() {
	Describe("FailureKind", func() {
		DescribeTable("names and retryability",
			func(kind rrio.FailureKind, name string, retryable bool) {
				Expect(kind.String()).To(Equal(name))
				Expect(kind.Retryable()).To(Equal(retryable))
			},
			Entry("terminal", rrio.KindTerminal, "terminal", false),
			Entry("quota", rrio.KindQuota, "quota", true),
			Entry("remote system", rrio.KindRemoteSystem, "remote-system", true),
			Entry("timeout", rrio.KindTimeout, "timeout", true),
			Entry("cancelled", rrio.KindCancelled, "cancelled", false),
			Entry("unknown", rrio.FailureKind(99), "unknown", false),
		)
	})

	Describe("CallError", func() {
		It("wraps the cause", func() {
			cause := errors.New("bad input")
			err := rrio.Terminal(cause)
			Expect(err).To(MatchError(cause))
			Expect(err.Error()).To(Equal("terminal: bad input"))

			var callErr *rrio.CallError
			Expect(errors.As(err, &callErr)).To(BeTrue())
			Expect(callErr.Kind).To(Equal(rrio.KindTerminal))
		})

		DescribeTable("constructors tag their kind",
			func(build func(error) error, kind rrio.FailureKind) {
				var callErr *rrio.CallError
				Expect(errors.As(fmt.Errorf("wrapped: %w", build(errors.New("x"))), &callErr)).To(BeTrue())
				Expect(callErr.Kind).To(Equal(kind))
			},
			Entry("Terminal", rrio.Terminal, rrio.KindTerminal),
			Entry("Quota", rrio.Quota, rrio.KindQuota),
			Entry("RemoteSystem", rrio.RemoteSystem, rrio.KindRemoteSystem),
			Entry("Timeout", rrio.Timeout, rrio.KindTimeout),
		)
	})

	Describe("InitializationError", func() {
		It("names the worker and unwraps the cause", func() {
			cause := errors.New("no credentials")
			err := &rrio.InitializationError{WorkerID: "w-1", Err: cause}
			Expect(err.Error()).To(ContainSubstring("w-1"))
			Expect(errors.Is(err, cause)).To(BeTrue())
		})
	})

	Describe("HTTPStatusClassifier", func() {
		var classifier *rrio.HTTPStatusClassifier

		BeforeEach(func() {
			classifier = rrio.NewHTTPStatusClassifier()
		})

		DescribeTable("classifies errors",
			func(err error, expected rrio.FailureKind) {
				Expect(classifier.Classify(err)).To(Equal(expected))
			},
			Entry("nil", nil, rrio.KindTerminal),
			Entry("429", rrio.NewStatusCodeError(429, errors.New("too many")), rrio.KindQuota),
			Entry("408", rrio.NewStatusCodeError(408, errors.New("timeout")), rrio.KindTimeout),
			Entry("504", rrio.NewStatusCodeError(504, errors.New("gateway timeout")), rrio.KindTimeout),
			Entry("500", rrio.NewStatusCodeError(500, errors.New("internal")), rrio.KindRemoteSystem),
			Entry("502", rrio.NewStatusCodeError(502, errors.New("bad gateway")), rrio.KindRemoteSystem),
			Entry("503", rrio.NewStatusCodeError(503, errors.New("unavailable")), rrio.KindRemoteSystem),
			Entry("400", rrio.NewStatusCodeError(400, errors.New("bad request")), rrio.KindTerminal),
			Entry("404", rrio.NewStatusCodeError(404, errors.New("not found")), rrio.KindTerminal),
			Entry("wrapped 503", fmt.Errorf("calling api: %w",
				rrio.NewStatusCodeError(503, errors.New("unavailable"))), rrio.KindRemoteSystem),
			Entry("rate limited sentinel", jperrors.ErrRateLimited, rrio.KindQuota),
			Entry("jp timeout error", jperrors.NewTimeoutError("slow", "lookup", time.Second), rrio.KindTimeout),
			Entry("deadline exceeded", context.DeadlineExceeded, rrio.KindTimeout),
			Entry("network timeout", &fakeNetError{timeout: true}, rrio.KindTimeout),
			Entry("network failure", &fakeNetError{}, rrio.KindRemoteSystem),
			Entry("untagged error", errors.New("boom"), rrio.KindTerminal),
		)

		It("honours custom status lists", func() {
			classifier.QuotaStatuses = []int{403}
			Expect(classifier.Classify(rrio.NewStatusCodeError(403, errors.New("forbidden")))).
				To(Equal(rrio.KindQuota))
			Expect(classifier.Classify(rrio.NewStatusCodeError(429, errors.New("too many")))).
				To(Equal(rrio.KindTerminal))
		})

		It("falls back to defaults when lists are nil", func() {
			empty := &rrio.HTTPStatusClassifier{}
			Expect(empty.Classify(rrio.NewStatusCodeError(429, errors.New("too many")))).
				To(Equal(rrio.KindQuota))
		})
	})

	Describe("StatusCodeError", func() {
		It("exposes the status code and cause", func() {
			cause := errors.New("unavailable")
			err := rrio.NewStatusCodeError(503, cause)

			var httpErr rrio.HTTPError
			Expect(errors.As(err, &httpErr)).To(BeTrue())
			Expect(httpErr.StatusCode()).To(Equal(503))
			Expect(errors.Is(err, cause)).To(BeTrue())
			Expect(err.Error()).To(Equal("unavailable"))
		})
	})
})
