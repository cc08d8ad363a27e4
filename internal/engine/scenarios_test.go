package engine

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/backend"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/stream"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

func TestEngineSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

var _ = Describe("Engine", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("fallback", func() {
		It("moves to the alternate backend when the primary produces garbage before any tool", func() {
			proc := newFake(types.BackendProcess, malformed())
			sdk := newFake(types.BackendSDK, succeed("sdk-9", "recovered", 0.05))
			h := newHarness(baseOptions(), session.Options{}, proc, sdk)

			var got updates
			res := h.engine.Execute(ctx, request(""), got.add)

			Expect(res.OK()).To(BeTrue())
			Expect(res.Text).To(Equal("recovered"))
			Expect(res.FellBack).To(BeTrue())
			Expect(res.Backend).To(Equal(types.BackendSDK))
			Expect(h.events.Count(event.ExecutionFallback)).To(Equal(1))
			Expect(got.Last()).To(BeAssignableToTypeOf(types.Completed{}))
		})

		It("never switches twice", func() {
			proc := newFake(types.BackendProcess, unavailable())
			sdk := newFake(types.BackendSDK, unavailable())
			h := newHarness(baseOptions(), session.Options{}, proc, sdk)

			res := h.engine.Execute(ctx, request(""), nil)

			Expect(res.Reason).To(Equal(types.ReasonBackendUnavailable))
			Expect(proc.Calls()).To(HaveLen(1))
			Expect(sdk.Calls()).To(HaveLen(1))
			Expect(h.events.Count(event.ExecutionFallback)).To(Equal(1))
		})
	})

	Describe("timeout after a tool ran", func() {
		It("fails without fallback and keeps the tool entry", func() {
			proc := newFake(types.BackendProcess, hang(nil, readTool))
			sdk := newFake(types.BackendSDK, succeed("s", "unused", 1))
			h := newHarness(baseOptions(), session.Options{}, proc, sdk)

			s, err := h.engine.Sessions().GetOrCreate(ctx, "user-1", "", "/srv/repo")
			Expect(err).NotTo(HaveOccurred())

			req := request(s.ID)
			req.Timeout = 30 * time.Millisecond
			var got updates
			res := h.engine.Execute(ctx, req, got.add)

			Expect(res.Reason).To(Equal(types.ReasonTimeout))
			Expect(got.Last()).To(Equal(types.Failed{Reason: types.ReasonTimeout, Detail: res.Detail}))
			Expect(sdk.Calls()).To(BeEmpty())
			Expect(h.events.Count(event.ExecutionFallback)).To(BeZero())

			sess, err := h.engine.Sessions().Get(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.ToolUsageLog).To(HaveLen(1))
			Expect(sess.AccumulatedCost).To(BeZero())
		})
	})

	DescribeTable("a refused shell tool",
		func(mode types.DenialMode, wantStatus types.ResultStatus) {
			opts := baseOptions()
			opts.DenialMode = mode
			proc := newFake(types.BackendProcess, succeed("c", "done", 0.01, bashTool))
			h := newHarness(opts, session.Options{}, proc)

			res := h.engine.Execute(ctx, request(""), nil)

			Expect(res.Status).To(Equal(wantStatus))
			Expect(res.Denied).To(Equal([]string{"Bash"}))

			sess, err := h.engine.Sessions().Get(ctx, res.SessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.ToolUsageLog).To(HaveLen(1))
			Expect(sess.ToolUsageLog[0].ToolName).To(Equal("Bash"))
			Expect(sess.ToolUsageLog[0].Accepted).To(BeFalse())
		},
		Entry("terminates the execution", types.DenialTerminate, types.StatusFailed),
		Entry("lets the turn finish", types.DenialFinishTurn, types.StatusCompleted),
	)

	Describe("session expiry", func() {
		It("starts a fresh session after the idle TTL", func() {
			now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			clock := func() time.Time { return now }
			opts := baseOptions()
			opts.Now = clock
			h := newHarness(opts, session.Options{TTL: 30 * time.Minute, Now: clock},
				newFake(types.BackendProcess, succeed("c", "ok", 0.2)))

			first := h.engine.Execute(ctx, request(""), nil)
			Expect(first.OK()).To(BeTrue())

			now = now.Add(29 * time.Minute)
			n, err := h.engine.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			now = now.Add(2 * time.Minute)
			n, err = h.engine.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(h.events.Count(event.SessionExpired)).To(Equal(1))

			next := h.engine.Execute(ctx, request(first.SessionID), nil)
			Expect(next.OK()).To(BeTrue())
			Expect(next.SessionID).NotTo(Equal(first.SessionID))

			sum, err := h.engine.Summary(ctx, next.SessionID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Cost).To(BeNumerically("~", 0.2, 1e-9))
		})
	})

	Describe("session log", func() {
		It("only ever grows across executions", func() {
			scripts := []script{
				succeed("c", "one", 0.1, readTool),
				malformed(readTool),
				succeed("c", "two", 0.2, readTool, readTool),
				processError(),
				succeed("c", "three", 0, bashTool),
			}
			proc := newFake(types.BackendProcess, nil)
			h := newHarness(baseOptions(), session.Options{}, proc)

			s, err := h.engine.Sessions().GetOrCreate(ctx, "user-1", "", "/srv/repo")
			Expect(err).NotTo(HaveOccurred())

			var prev *types.Session
			for _, sc := range scripts {
				proc.script = sc
				h.engine.Execute(ctx, request(s.ID), nil)

				cur, err := h.engine.Sessions().Get(ctx, s.ID)
				Expect(err).NotTo(HaveOccurred())
				if prev != nil {
					Expect(len(cur.ToolUsageLog)).To(BeNumerically(">=", len(prev.ToolUsageLog)))
					Expect(cur.ToolUsageLog[:len(prev.ToolUsageLog)]).To(Equal(prev.ToolUsageLog))
					Expect(cur.AccumulatedCost).To(BeNumerically(">=", prev.AccumulatedCost))
				}
				prev = cur
			}
			Expect(prev.ToolUsageLog).To(HaveLen(5))
			Expect(prev.AccumulatedCost).To(BeNumerically("~", 0.3, 1e-9))
		})
	})

	Describe("abort", func() {
		It("forwards nothing after the abort but the terminal update", func() {
			started := make(chan struct{})
			proc := newFake(types.BackendProcess, func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
				enc := stream.Encoder{SessionID: "chatty"}
				emit(string(enc.Text("before")))
				close(started)
				<-ctx.Done()
				emit(string(enc.Text("after-abort")))
				emit(string(enc.Result("after-abort", 3, nil)))
				return backend.Exit{Reason: types.ReasonCancelled, Err: ctx.Err()}
			})
			h := newHarness(baseOptions(), session.Options{}, proc)

			s, err := h.engine.Sessions().GetOrCreate(ctx, "user-1", "", "/srv/repo")
			Expect(err).NotTo(HaveOccurred())

			var got updates
			done := make(chan *types.BackendResult)
			go func() { done <- h.engine.Execute(ctx, request(s.ID), got.add) }()

			Eventually(started).Should(BeClosed())
			Expect(h.engine.Abort(s.ID)).To(Succeed())

			var res *types.BackendResult
			Eventually(done).Should(Receive(&res))
			Expect(res.Reason).To(Equal(types.ReasonCancelled))
			Expect(got.All()).To(Equal([]types.StreamUpdate{
				types.TextDelta{Content: "before"},
				types.Failed{Reason: types.ReasonCancelled, Detail: res.Detail},
			}))

			sum, err := h.engine.Summary(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Cost).To(BeZero())
		})
	})

	Describe("concurrent requests on one session", func() {
		It("queues them and commits each exactly once", func() {
			proc := newFake(types.BackendProcess, succeed("c", "ok", 0.01, readTool))
			h := newHarness(baseOptions(), session.Options{BusyPolicy: types.BusyQueue}, proc)

			s, err := h.engine.Sessions().GetOrCreate(ctx, "user-1", "", "/srv/repo")
			Expect(err).NotTo(HaveOccurred())
			before := h.store.puts.Load()

			const n = 8
			results := make(chan *types.BackendResult, n)
			for i := 0; i < n; i++ {
				go func() { results <- h.engine.Execute(ctx, request(s.ID), nil) }()
			}
			for i := 0; i < n; i++ {
				var res *types.BackendResult
				Eventually(results).Should(Receive(&res))
				Expect(res.OK()).To(BeTrue())
			}

			Expect(h.store.puts.Load() - before).To(BeEquivalentTo(n))
			sess, err := h.engine.Sessions().Get(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.ToolUsageLog).To(HaveLen(n))
			Expect(sess.ExecutionCount).To(Equal(n))
			Expect(sess.AccumulatedCost).To(BeNumerically("~", 0.08, 1e-9))
		})
	})
})
