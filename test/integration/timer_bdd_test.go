//go:build integration

package integration

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/agent"
	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/broadcast"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
	"github.com/eliteGoblin/focusd/focusforge/internal/infra"
	"github.com/eliteGoblin/focusd/focusforge/internal/usecase"
	"github.com/eliteGoblin/focusd/focusforge/test/fixtures"
)

// lockedBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// surface collects the records seen on the /events stream.
type surface struct {
	mu      sync.Mutex
	records []domain.TimerRecord
}

func (s *surface) add(msg domain.Message) error {
	if msg.Type == domain.TypeTimerUpdated && msg.Data != nil {
		s.mu.Lock()
		s.records = append(s.records, *msg.Data)
		s.mu.Unlock()
	}
	return nil
}

func (s *surface) states() []domain.TimerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TimerState, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.State)
	}
	return out
}

// page is a registered page with its overlay agent running.
type page struct {
	tab   domain.Tab
	agent *agent.Agent
	out   *lockedBuffer
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var _ = Describe("Focus timer over HTTP", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataDir   string
		store     *infra.FileStore
		clock     *fixtures.ManualClock
		scheduler *fixtures.ManualScheduler
		hub       *broadcast.Hub
		ts        *httptest.Server
		client    *api.Client
		watcher   *surface
		streams   sync.WaitGroup
	)

	startServer := func() {
		logger := zap.NewNop()
		scheduler = fixtures.NewManualScheduler()
		hub = broadcast.NewHub(logger)
		ctrl := usecase.NewControllerWithClock(store, scheduler, hub, hub, clock, logger)
		_, err := ctrl.Seed(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctrl.Restore(ctx)).To(Succeed())

		ts = httptest.NewServer(api.NewServer(ctrl, hub, "127.0.0.1:0", "test", logger).Handler())
		client = api.NewClient(ts.URL)
	}

	stopServer := func() {
		cancel()
		streams.Wait()
		ts.Close()
	}

	watch := func() *surface {
		s := &surface{}
		streams.Add(1)
		go func() {
			defer streams.Done()
			_ = client.Events(ctx, s.add)
		}()
		Eventually(s.states).ShouldNot(BeEmpty(), "snapshot arrives first")
		return s
	}

	openPage := func(url string, active bool) *page {
		tab, err := client.OpenPage(ctx, url, active)
		Expect(err).NotTo(HaveOccurred())

		p := &page{tab: tab, out: &lockedBuffer{}}
		p.agent = agent.NewWithClock(client, p.out, clock.Now, zap.NewNop())
		streams.Add(1)
		go func() {
			defer streams.Done()
			_ = p.agent.Run(ctx, func(ctx context.Context, fn func(domain.Message) error) error {
				return client.PageEvents(ctx, tab.ID, fn)
			})
		}()
		// Injection succeeds once the page's receiver is attached.
		Eventually(func() error {
			return hub.Inject(ctx, tab.ID, domain.Injection{Kind: "probe"})
		}).Should(Succeed())
		return p
	}

	expire := func() {
		Expect(scheduler.Expire(ctx, clock, domain.WakeupName)).To(BeTrue(), "expected a pending wake-up")
	}

	phase := func() domain.TimerState {
		record, err := client.TimerData(ctx)
		Expect(err).NotTo(HaveOccurred())
		return record.State
	}

	cycleCount := func() int {
		health, err := client.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		return health.CycleCount
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		dataDir = GinkgoT().TempDir()
		var err error
		store, err = infra.NewFileStore(dataDir)
		Expect(err).NotTo(HaveOccurred())
		clock = fixtures.NewManualClock(t0)
		startServer()
		watcher = watch()
	})

	AfterEach(func() {
		stopServer()
	})

	Context("a focus session with a web page open", func() {
		var web *page

		BeforeEach(func() {
			web = openPage("https://example.com/article", true)
		})

		It("runs focus then break then idle", func() {
			Expect(client.Start(ctx)).To(Succeed())

			record, err := client.TimerData(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(record.State).To(Equal(domain.StateFocusing))
			Expect(record.EndAt()).To(Equal(t0.Add(25 * time.Minute)))

			By("completing the focus session")
			expire()
			Expect(phase()).To(Equal(domain.StateBreaking))
			Expect(cycleCount()).To(Equal(1))
			Eventually(web.out.String).Should(ContainSubstring("Focus session complete"))
			Eventually(web.out.String).Should(ContainSubstring("Time for a break!"))
			Eventually(web.out.String).Should(ContainSubstring("05:00 ["))
			Expect(web.agent.Visible(domain.InjectBreakOverlay)).To(BeTrue())

			By("counting the break down from its end time")
			clock.Advance(150 * time.Second)
			web.agent.Tick()
			Eventually(web.out.String).Should(ContainSubstring("02:30 [###############...............]"))

			By("completing the break")
			expire()
			Expect(phase()).To(Equal(domain.StateIdle))
			Eventually(func() bool { return web.agent.Visible(domain.InjectBreakOverlay) }).Should(BeFalse())
			Expect(web.out.String()).To(ContainSubstring("overlay removed"))

			_, pending := scheduler.Pending(domain.WakeupName)
			Expect(pending).To(BeFalse())

			Eventually(watcher.states).Should(Equal([]domain.TimerState{
				domain.StateIdle, domain.StateFocusing, domain.StateBreaking, domain.StateIdle,
			}))
		})

		It("locks out on every third session", func() {
			for i := 1; i <= 2; i++ {
				Expect(client.Start(ctx)).To(Succeed())
				expire()
				Expect(cycleCount()).To(Equal(i))
				expire()
				Expect(phase()).To(Equal(domain.StateIdle))
			}

			Expect(client.Start(ctx)).To(Succeed())
			expire()

			Expect(phase()).To(Equal(domain.StateLockout))
			Expect(cycleCount()).To(Equal(0))
			Eventually(web.out.String).Should(ContainSubstring("ran into a problem"))
			_, pending := scheduler.Pending(domain.WakeupName)
			Expect(pending).To(BeFalse(), "a lockout has no end")

			By("starting a new session out of the lockout")
			Expect(client.Start(ctx)).To(Succeed())
			Expect(phase()).To(Equal(domain.StateFocusing))
			Expect(cycleCount()).To(Equal(0))
			_, pending = scheduler.Pending(domain.WakeupName)
			Expect(pending).To(BeTrue())

			By("stopping the session")
			Expect(client.Stop(ctx, "")).To(Succeed())
			Expect(phase()).To(Equal(domain.StateIdle))
			Eventually(func() bool { return web.agent.Visible(domain.InjectLockoutOverlay) }).Should(BeFalse())
		})

		It("gates stop behind the unlock password", func() {
			password := "hunter22"
			_, err := client.UpdateSettings(ctx, domain.SettingsUpdate{Password: &password})
			Expect(err).NotTo(HaveOccurred())

			Expect(client.Start(ctx)).To(Succeed())
			expire()

			err = client.Stop(ctx, "wrong")
			var se *api.StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Code).To(Equal(http.StatusForbidden))
			Expect(phase()).To(Equal(domain.StateBreaking))

			Expect(client.Stop(ctx, password)).To(Succeed())
			Expect(phase()).To(Equal(domain.StateIdle))
		})
	})

	Context("pages that are not eligible", func() {
		It("skips restricted and unfocused pages", func() {
			settingsPage := openPage("chrome://settings", true)
			background := openPage("https://example.org", false)

			Expect(client.Start(ctx)).To(Succeed())
			expire()

			Eventually(background.out.String).Should(ContainSubstring("Time for a break!"))
			Consistently(settingsPage.out.String, 200*time.Millisecond).ShouldNot(ContainSubstring("Time for a break!"))
			Expect(settingsPage.out.String()).NotTo(ContainSubstring("complete"))
			Expect(background.out.String()).NotTo(ContainSubstring("complete"), "celebration goes to the focused page only")
		})
	})

	Context("a daemon restart", func() {
		It("resumes the session from the stored end time", func() {
			Expect(client.Start(ctx)).To(Succeed())
			clock.Advance(10 * time.Minute)

			stopServer()
			ctx, cancel = context.WithCancel(context.Background())
			startServer()

			fireAt, pending := scheduler.Pending(domain.WakeupName)
			Expect(pending).To(BeTrue())
			Expect(fireAt).To(Equal(t0.Add(25 * time.Minute)))
			Expect(phase()).To(Equal(domain.StateFocusing))

			expire()
			Expect(phase()).To(Equal(domain.StateBreaking))
		})
	})
})
