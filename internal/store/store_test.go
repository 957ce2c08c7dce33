package store_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
	"github.com/angeloszaimis/rule-proxy/internal/store"
)

var _ = Describe("Store", func() {
	var (
		ctx    context.Context
		dbPath string
		s      *store.Store
	)

	newRule := func(id string, seq uint64) ruletable.Rule {
		now := time.Now().UTC()
		return ruletable.Rule{
			ID:        id,
			Name:      "rule " + id,
			Source:    "/" + id + "/{*rest}",
			Target:    "http://" + id + ".internal/{rest}",
			Enabled:   true,
			Timeout:   1500 * time.Millisecond,
			Seq:       seq,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		dbPath = filepath.Join(GinkgoT().TempDir(), "proxy.db")

		var err error
		s, err = store.Open(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	Describe("rules", func() {
		It("should round-trip a rule", func() {
			rule := newRule("users", 1)
			Expect(s.PersistUpsert(ctx, rule)).To(Succeed())

			got, err := s.GetRule(ctx, "users")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Source).To(Equal(rule.Source))
			Expect(got.Target).To(Equal(rule.Target))
			Expect(got.Timeout).To(Equal(1500 * time.Millisecond))
			Expect(got.Enabled).To(BeTrue())
			Expect(got.Seq).To(Equal(uint64(1)))
			Expect(got.CreatedAt).To(BeTemporally("~", rule.CreatedAt, time.Millisecond))
		})

		It("should replace a stored rule on upsert", func() {
			rule := newRule("users", 1)
			Expect(s.PersistUpsert(ctx, rule)).To(Succeed())

			rule.Target = "http://users-v2.internal/{rest}"
			rule.Enabled = false
			Expect(s.PersistUpsert(ctx, rule)).To(Succeed())

			rules, err := s.LoadAllRules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
			Expect(rules[0].Target).To(Equal("http://users-v2.internal/{rest}"))
			Expect(rules[0].Enabled).To(BeFalse())
		})

		It("should load rules in creation order", func() {
			Expect(s.PersistUpsert(ctx, newRule("c", 3))).To(Succeed())
			Expect(s.PersistUpsert(ctx, newRule("a", 1))).To(Succeed())
			Expect(s.PersistUpsert(ctx, newRule("b", 2))).To(Succeed())

			rules, err := s.LoadAllRules(ctx)
			Expect(err).NotTo(HaveOccurred())

			ids := make([]string, len(rules))
			for i, r := range rules {
				ids[i] = r.ID
			}
			Expect(ids).To(Equal([]string{"a", "b", "c"}))
		})

		It("should toggle a stored rule", func() {
			Expect(s.PersistUpsert(ctx, newRule("users", 1))).To(Succeed())
			Expect(s.PersistToggle(ctx, "users", false)).To(Succeed())

			got, err := s.GetRule(ctx, "users")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Enabled).To(BeFalse())
		})

		It("should report toggling a missing rule", func() {
			Expect(s.PersistToggle(ctx, "missing", true)).To(MatchError(store.ErrNotFound))
		})

		It("should delete idempotently", func() {
			Expect(s.PersistUpsert(ctx, newRule("users", 1))).To(Succeed())
			Expect(s.PersistDelete(ctx, "users")).To(Succeed())
			Expect(s.PersistDelete(ctx, "users")).To(Succeed())

			_, err := s.GetRule(ctx, "users")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should keep rules across reopen", func() {
			Expect(s.PersistUpsert(ctx, newRule("users", 1))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			var err error
			s, err = store.Open(dbPath)
			Expect(err).NotTo(HaveOccurred())

			rules, err := s.LoadAllRules(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(rules).To(HaveLen(1))
		})

		It("should seed a rule table that matches what was stored", func() {
			Expect(s.PersistUpsert(ctx, newRule("api", 1))).To(Succeed())

			rules, err := s.LoadAllRules(ctx)
			Expect(err).NotTo(HaveOccurred())

			table := ruletable.New(slog.New(slog.NewTextHandler(io.Discard, nil)), s)
			Expect(table.Load(rules)).To(Succeed())

			m, ok := table.Snapshot().Match("/api/v1/users")
			Expect(ok).To(BeTrue())
			u, err := m.Resolve("")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.String()).To(Equal("http://api.internal/v1/users"))
		})
	})

	Describe("settings", func() {
		It("should report a missing setting", func() {
			_, err := s.GetSetting(ctx, "nope")
			Expect(err).To(MatchError(store.ErrNotFound))
		})

		It("should set and overwrite a setting", func() {
			Expect(s.SetSetting(ctx, store.SettingDirectProxyPath, "/proxy/")).To(Succeed())
			Expect(s.SetSetting(ctx, store.SettingDirectProxyPath, "/fetch/")).To(Succeed())

			value, err := s.GetSetting(ctx, store.SettingDirectProxyPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("/fetch/"))
		})

		It("should seed a setting only once", func() {
			value, err := s.EnsureSetting(ctx, store.SettingDirectProxyPath, "/proxy/")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("/proxy/"))

			Expect(s.SetSetting(ctx, store.SettingDirectProxyPath, "/go/")).To(Succeed())

			value, err = s.EnsureSetting(ctx, store.SettingDirectProxyPath, "/proxy/")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("/go/"))
		})

		It("should list settings by key", func() {
			Expect(s.SetSetting(ctx, "b", "2")).To(Succeed())
			Expect(s.SetSetting(ctx, "a", "1")).To(Succeed())

			settings, err := s.ListSettings(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(settings).To(HaveLen(2))
			Expect(settings[0].Key).To(Equal("a"))
			Expect(settings[1].Value).To(Equal("2"))
		})
	})
})
