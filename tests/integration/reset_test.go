package integration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Kup1ng/gre-watchdog/internal/config"
	"github.com/Kup1ng/gre-watchdog/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Coordinated reset", func() {
	var (
		fw  *Framework
		cfg *config.Coordinator
		st  *model.TunnelState
		mu  sync.Mutex
	)

	BeforeEach(func() {
		fw = NewFramework()
		c := config.DefaultCoordinator()
		c.DownHoldSec = 0
		c.UpGapSec = 0
		cfg = &c
		st = model.NewTunnelState(model.Descriptor{
			ID: 42, IfaceLocal: "gre-42", IfaceRemote: "gre-kh-42",
			PeerPublic: "203.0.113.42", LocalPrivate: "10.0.0.1", PeerPrivate: "10.0.0.2",
		})
		st.BadRounds = cfg.ConfirmBadRounds
		mu = sync.Mutex{}
	})

	AfterEach(func() {
		fw.Close()
	})

	It("flaps the remote and local interfaces in order and clears the wedge", func() {
		fw.Orchestrator.Reset(context.Background(), cfg, st, &mu)

		Expect(st.Status).To(Equal(model.StatusOK))
		Expect(st.BadRounds).To(Equal(0))
		Expect(st.LastAction).To(Equal(model.ActionResetDone))
		Expect(fw.LinkCalls()).To(Equal([]string{"gre-42:down", "gre-42:up"}))
		Expect(fw.Events.Messages()).To(ContainElement("reset started"))
		Expect(fw.Events.Messages()).To(ContainElement("reset done"))
	})

	It("rolls back to a remote-up attempt when the local interface fails to go down", func() {
		fw.FailLocalLink(errors.New("device or resource busy"))

		fw.Orchestrator.Reset(context.Background(), cfg, st, &mu)

		Expect(st.Status).To(Equal(model.StatusError))
		Expect(st.LastAction).To(Equal(model.ActionLocalDownFailed))
		Expect(fw.LinkCalls()).To(Equal([]string{"gre-42:down"}))
	})

	It("pauses instead of calling the Agent once the reset rate limit is reached", func() {
		now := time.Now()
		st.ResetsWindow = []int64{now.Add(-time.Minute).Unix(), now.Add(-2 * time.Minute).Unix(), now.Add(-3 * time.Minute).Unix()}

		fw.Orchestrator.Reset(context.Background(), cfg, st, &mu)

		Expect(st.Status).To(Equal(model.StatusPaused))
		Expect(st.LastAction).To(Equal(model.ActionPausedRateLimit))
		Expect(fw.LinkCalls()).To(BeEmpty())
	})
})
