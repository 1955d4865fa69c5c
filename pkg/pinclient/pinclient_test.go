package pinclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/pool"
	"github.com/packrat/pinserver/pkg/query"
	"github.com/packrat/pinserver/pkg/service"
	"github.com/packrat/pinserver/pkg/store"
)

// flaky answers 503 to the first failures requests, then defers to next.
type flaky struct {
	next     http.Handler
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flaky) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.calls.Add(1) <= f.failures.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"resource_unavailable","message":"busy"}`))
		return
	}
	f.next.ServeHTTP(w, r)
}

func newServer() (*httptest.Server, *flaky) {
	db, err := gorm.Open(sqlite.Open(":memory:"), store.GormConfig())
	Expect(err).NotTo(HaveOccurred())
	sqlDB, err := db.DB()
	Expect(err).NotTo(HaveOccurred())
	sqlDB.SetMaxOpenConns(1)
	Expect(store.Migrate(db)).To(Succeed())

	svc := service.New(db, pool.New(db, 1), service.DefaultConfig(), nil)
	f := &flaky{next: svc.Router(nil)}
	srv := httptest.NewServer(f)
	DeferCleanup(func() {
		srv.Close()
		_ = sqlDB.Close()
	})
	return srv, f
}

func newClient(url string) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = url + "/"
	cfg.User = "jgerber"
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	return New(cfg, nil)
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		client *Client
		srv    *httptest.Server
		gate   *flaky
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv, gate = newServer()
		client = newClient(srv.URL)
	})

	Context("round trips", Ordered, func() {
		It("writes and resolves pins", func() {
			By("creating the hierarchy and distributions")
			_, err := client.AddPackages(ctx, api.AddNames{Names: []string{"maya", "mtoa"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddLevels(ctx, api.AddNames{Names: []string{"dev01"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddRoles(ctx, api.AddNames{Names: []string{"model"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddPlatforms(ctx, api.AddNames{Names: []string{"cent7_64"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddSites(ctx, api.AddNames{Names: []string{"portland"}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddDistributions(ctx, api.AddDistributions{Package: "maya", Versions: []string{"1", "2"}})
			Expect(err).NotTo(HaveOccurred())

			By("pinning at the facility and at dev01/model")
			_, err = client.AddVersionPins(ctx, api.AddVersionPins{Distribution: "maya-1"})
			Expect(err).NotTo(HaveOccurred())
			reply, err := client.AddVersionPins(ctx, api.AddVersionPins{Distribution: "maya-2", Levels: []string{"dev01"}, Roles: []string{"model"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Updates).To(BeEquivalentTo(1))

			By("resolving the closest pin")
			pin, err := client.VersionPin(ctx, query.NewVersionPin(
				query.WithPackage("maya"), query.WithLevel("dev01"), query.WithRole("model"),
				query.WithPlatform("cent7_64"), query.WithSite("portland")))
			Expect(err).NotTo(HaveOccurred())
			Expect(pin.Distribution).To(Equal("maya-2"))

			By("listing and auditing")
			pkgs, err := client.Packages(ctx, query.NewPackages())
			Expect(err).NotTo(HaveOccurred())
			Expect(pkgs).To(HaveLen(2))
			levels, err := client.Levels(ctx, query.NewLevels(query.WithShow("dev01")))
			Expect(err).NotTo(HaveOccurred())
			Expect(levels).To(HaveLen(1))
			revs, err := client.Revisions(ctx, query.NewRevisions(query.WithTransactionID(reply.TransactionID)))
			Expect(err).NotTo(HaveOccurred())
			Expect(revs).To(HaveLen(1))
			Expect(revs[0].Author).To(Equal("jgerber"))
			changes, err := client.Changes(ctx, query.NewChanges(query.WithTransactionID(reply.TransactionID)))
			Expect(err).NotTo(HaveOccurred())
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].NewDistribution).To(Equal("maya-2"))

			By("repointing, attaching withs and exporting")
			dists, err := client.Distributions(ctx, query.NewDistributions(query.WithPackage("maya"), query.WithVersion("2")))
			Expect(err).NotTo(HaveOccurred())
			root, err := client.VersionPin(ctx, query.NewVersionPin(query.WithPackage("maya")))
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SetVersionPins(ctx, api.SetVersionPins{VersionPinIDs: []int64{root.VersionPinID}, DistributionIDs: []int64{dists[0].ID}})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.AddWiths(ctx, api.AddWiths{VersionPinID: root.VersionPinID, Withs: []string{"mtoa"}})
			Expect(err).NotTo(HaveOccurred())
			withs, err := client.VersionPinWiths(ctx, query.NewVersionPinWiths(query.WithVersionPinID(root.VersionPinID)))
			Expect(err).NotTo(HaveOccurred())
			Expect(withs).To(HaveLen(1))
			users, err := client.Withs(ctx, query.NewWiths(query.WithPackage("mtoa")))
			Expect(err).NotTo(HaveOccurred())
			Expect(users).To(HaveLen(1))
			slots, err := client.PkgCoords(ctx, query.NewPkgCoords(query.WithPackage("maya"), query.WithSearchMode("descendant")))
			Expect(err).NotTo(HaveOccurred())
			Expect(slots).To(HaveLen(2))

			doc, err := client.Export(ctx, api.Export{Show: "dev01", Format: "yaml"})
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Pins).To(Equal(2))
			Expect(doc.Document).To(ContainSubstring("mtoa"))
		})
	})

	Context("errors", func() {
		It("decodes the server's classification", func() {
			_, err := client.VersionPin(ctx, query.NewVersionPin(query.WithPackage("maya")))
			Expect(errcode.Is(err, errcode.NotFound)).To(BeTrue())
			var e *errcode.Error
			Expect(err).To(BeAssignableToTypeOf(e))
			Expect(err.(*errcode.Error).Op).To(Equal(api.OpGetVersionPin))

			_, err = client.AddPackages(ctx, api.AddNames{})
			Expect(errcode.Is(err, errcode.InvalidArgument)).To(BeTrue())
			_, err = client.AddPackages(ctx, api.AddNames{Names: []string{"houdini-engine"}})
			Expect(errcode.Is(err, errcode.InvalidArgument)).To(BeTrue())
		})

		It("rejects malformed and unknown coordinates", func() {
			_, err := client.VersionPin(ctx, query.NewVersionPin(query.WithPackage("maya"), query.WithLevel("dev01..rd")))
			Expect(errcode.Is(err, errcode.InvalidArgument)).To(BeTrue())
			_, err = client.VersionPins(ctx, query.NewVersionPins(query.WithLevel("dev01")))
			Expect(errcode.Is(err, errcode.NotFound)).To(BeTrue())
		})

		It("reports transport failures as internal", func() {
			srv.Close()
			_, err := client.Packages(ctx, query.NewPackages())
			Expect(errcode.Is(err, errcode.Internal)).To(BeTrue())
		})
	})

	Context("retries", func() {
		It("retries reads through transient failures", func() {
			gate.failures.Store(2)
			pkgs, err := client.Packages(ctx, query.NewPackages())
			Expect(err).NotTo(HaveOccurred())
			Expect(pkgs).To(BeEmpty())
			Expect(gate.calls.Load()).To(BeEquivalentTo(3))
		})

		It("gives up on reads after the retry budget", func() {
			gate.failures.Store(100)
			_, err := client.Packages(ctx, query.NewPackages())
			Expect(errcode.Is(err, errcode.ResourceUnavailable)).To(BeTrue())
			Expect(gate.calls.Load()).To(BeEquivalentTo(4))
		})

		It("never retries writes", func() {
			gate.failures.Store(1)
			_, err := client.AddPackages(ctx, api.AddNames{Names: []string{"maya"}})
			Expect(errcode.Is(err, errcode.ResourceUnavailable)).To(BeTrue())
			Expect(gate.calls.Load()).To(BeEquivalentTo(1))

			pkgs, err := client.Packages(ctx, query.NewPackages())
			Expect(err).NotTo(HaveOccurred())
			Expect(pkgs).To(BeEmpty())
		})
	})

	It("lists operations and reports health", func() {
		ops, err := client.Operations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ops).To(ContainElement(api.Operation{Name: api.OpSetVersionPins, Write: true}))
		health, err := client.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(health).To(HaveKeyWithValue("status", "alive"))
		ready, err := client.Ready(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ready).To(HaveKeyWithValue("status", "ready"))
	})
})
