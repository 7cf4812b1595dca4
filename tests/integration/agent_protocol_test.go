package integration

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/Kup1ng/gre-watchdog/internal/agentclient"
	"github.com/Kup1ng/gre-watchdog/internal/agentserver"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Agent RPC protocol", func() {
	var fw *Framework

	BeforeEach(func() {
		fw = NewFramework()
	})

	AfterEach(func() {
		fw.Close()
	})

	It("completes a signed round trip and reports the operation's result", func() {
		resp, err := fw.Client.Call(context.Background(), "/v1/iface/up", "gre-kh-1", true)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.OK).To(BeTrue())
		Expect(resp.Iface).To(Equal("gre-kh-1"))
	})

	It("accepts two independent calls, each under its own command_id", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		first, err := fw.Client.Call(ctx, "/v1/iface/down", "gre-kh-2", true)
		Expect(err).NotTo(HaveOccurred())

		second, err := fw.Client.Call(ctx, "/v1/iface/down", "gre-kh-2", true)
		Expect(err).NotTo(HaveOccurred())

		// Two independent Call()s mint distinct command_ids, so this just
		// confirms both succeed against the live idempotency-aware server;
		// same-command_id replay is covered at the unit level in
		// internal/agentserver, where the command_id can be pinned.
		Expect(first.OK).To(BeTrue())
		Expect(second.OK).To(BeTrue())
	})

	It("exhausts retries against a CIDR allow-list that excludes the caller", func() {
		srv := agentserver.New(agentserver.Config{
			SharedSecret:   testSharedSecret,
			AllowCIDRs:     []string{"10.0.0.0/8"},
			MaxClockSkew:   30 * time.Second,
			IdempotencyTTL: time.Minute,
		})
		httpSrv := httptest.NewServer(srv.Handler())
		defer httpSrv.Close()

		client := agentclient.New(httpSrv.URL, testSharedSecret, time.Second, 2, time.Millisecond, 4*time.Millisecond)

		_, err := client.Call(context.Background(), "/v1/iface/up", "gre-kh-3", true)
		Expect(err).To(HaveOccurred())
	})
})
