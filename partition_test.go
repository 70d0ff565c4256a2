package rrio_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-rrio"
)

var _ = Describe("Partition", func() {
	var (
		collector *rrio.Collector[string, string]
		record    rrio.ErrorRecord[string]
	)

	BeforeEach(func() {
		collector = &rrio.Collector[string, string]{}
		req := "b"
		record = rrio.ErrorRecord[string]{
			ID:             "rec-1",
			Request:        &req,
			Classification: rrio.ClassExhaustedRetries,
			Kind:           rrio.KindQuota,
			KindName:       "quota",
			Message:        "quota exceeded",
			Attempts:       3,
			Backoff:        300 * time.Millisecond,
			WorkerID:       "w-1",
			Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	})

	It("routes a success to the response output only", func() {
		out := rrio.Succeeded(rrio.Result[string, string]{Request: "a", Response: "A", Attempts: 1})
		Expect(out.IsSuccess()).To(BeTrue())

		Expect(rrio.Partition(out, collector)).To(Succeed())
		Expect(collector.Responses()).To(HaveLen(1))
		Expect(collector.Errors()).To(BeEmpty())
	})

	It("routes a failure to the error output only", func() {
		out := rrio.Failed[string, string](record)
		Expect(out.IsSuccess()).To(BeFalse())

		Expect(rrio.Partition(out, collector)).To(Succeed())
		Expect(collector.Responses()).To(BeEmpty())

		errs := collector.Errors()
		Expect(errs).To(HaveLen(1))
		diff := cmp.Diff(record, errs[0], cmpopts.IgnoreUnexported(rrio.ErrorRecord[string]{}))
		Expect(diff).To(BeEmpty())
	})

	It("rejects an empty outcome", func() {
		Expect(rrio.Partition(rrio.Outcome[string, string]{}, collector)).NotTo(Succeed())
		Expect(collector.Responses()).To(BeEmpty())
		Expect(collector.Errors()).To(BeEmpty())
	})

	It("returns copies from the collector", func() {
		Expect(rrio.Partition(rrio.Failed[string, string](record), collector)).To(Succeed())
		errs := collector.Errors()
		errs[0].Message = "changed"
		Expect(collector.Errors()[0].Message).To(Equal("quota exceeded"))
	})

	It("is safe for concurrent emitters", func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					_ = rrio.Partition(rrio.Succeeded(rrio.Result[string, string]{Request: "a"}), collector)
				} else {
					_ = rrio.Partition(rrio.Failed[string, string](record), collector)
				}
			}(i)
		}
		wg.Wait()
		Expect(collector.Responses()).To(HaveLen(25))
		Expect(collector.Errors()).To(HaveLen(25))
	})

	Describe("ChannelEmitter", func() {
		It("delivers each output on its own channel", func() {
			em := rrio.NewChannelEmitter[string, string](1)
			Expect(rrio.Partition(rrio.Succeeded(rrio.Result[string, string]{Request: "a", Response: "A"}), em)).To(Succeed())
			Expect(rrio.Partition(rrio.Failed[string, string](record), em)).To(Succeed())
			em.Close()
			em.Close()

			var res rrio.Result[string, string]
			Eventually(em.Responses()).Should(Receive(&res))
			Expect(res.Response).To(Equal("A"))

			var rec rrio.ErrorRecord[string]
			Eventually(em.Errors()).Should(Receive(&rec))
			Expect(rec.ID).To(Equal("rec-1"))
			Expect(em.Errors()).To(BeClosed())
		})
	})

	Describe("ErrorRecord", func() {
		It("exposes the underlying error of executor failures", func() {
			caller := &mockCaller{callFunc: func(_ context.Context, _ string) (string, error) {
				return "", rrio.Terminal(errBad)
			}}
			exec, err := rrio.NewExecutor[string, string](caller, rrio.WithExecutorConfig(fastRetry(1)...))
			Expect(err).NotTo(HaveOccurred())
			out := exec.Execute(context.Background(), "x")
			rec, ok := out.Failure()
			Expect(ok).To(BeTrue())
			Expect(errors.Is(rec.Err(), errBad)).To(BeTrue())
		})
	})
})

var errBad = errors.New("bad request")
