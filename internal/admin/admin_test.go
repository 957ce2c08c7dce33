package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rule-proxy/internal/admin"
	"github.com/angeloszaimis/rule-proxy/internal/direct"
	"github.com/angeloszaimis/rule-proxy/internal/metrics"
	"github.com/angeloszaimis/rule-proxy/internal/outcome"
	"github.com/angeloszaimis/rule-proxy/internal/ruletable"
	"github.com/angeloszaimis/rule-proxy/internal/store"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type ruleBody struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	TimeoutSecs float64 `json:"timeout_secs"`
	Enabled     bool    `json:"enabled"`
}

type brokenStore struct{}

func (brokenStore) PersistUpsert(context.Context, ruletable.Rule) error {
	return errors.New("database is locked")
}

func (brokenStore) PersistDelete(context.Context, string) error {
	return errors.New("database is locked")
}

func (brokenStore) PersistToggle(context.Context, string, bool) error {
	return errors.New("database is locked")
}

var _ = Describe("Admin API", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		log       *slog.Logger
		db        *store.Store
		table     *ruletable.Table
		decoder   *direct.Decoder
		collector *metrics.Collector
		reg       = metrics.NewRegistry()
		mux       http.Handler
	)

	call := func(method, path, body string) (int, response) {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		var resp response
		if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		}
		return w.Code, resp
	}

	createRule := func(body string) ruleBody {
		code, resp := call(http.MethodPost, "/api/rules", body)
		Expect(code).To(Equal(http.StatusCreated), resp.Message)

		var rule ruleBody
		Expect(json.Unmarshal(resp.Data, &rule)).To(Succeed())
		return rule
	}

	build := func(persister ruletable.Persister) {
		table = ruletable.New(log, persister)
		Expect(table.Load(nil)).To(Succeed())
		go func() { _ = table.Run(ctx) }()

		mux = admin.New(log, admin.Options{
			Table:     table,
			Decoder:   decoder,
			Settings:  db,
			Metrics:   collector,
			Registry:  reg,
			ProxyAddr: ":3000",
			InFlight:  func() int64 { return 3 },
		}).Routes()
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		log = slog.New(slog.NewTextHandler(io.Discard, nil))

		var err error
		db, err = store.Open(filepath.Join(GinkgoT().TempDir(), "admin.db"))
		Expect(err).NotTo(HaveOccurred())

		decoder, err = direct.NewDecoder("/proxy/")
		Expect(err).NotTo(HaveOccurred())

		reg = metrics.NewRegistry()
		collector = metrics.NewCollector(16, reg, log)
		go func() { _ = collector.Run(ctx) }()

		build(db)
	})

	AfterEach(func() {
		cancel()
		Expect(db.Close()).To(Succeed())
	})

	Describe("rules", func() {
		It("should create a rule, apply it and store it", func() {
			rule := createRule(`{"name":"users","source":"/users/{id}","target":"http://users.internal/u/{id}","timeout_secs":2.5}`)

			Expect(rule.ID).NotTo(BeEmpty())
			Expect(rule.Enabled).To(BeTrue())
			Expect(rule.TimeoutSecs).To(Equal(2.5))

			m, ok := table.Snapshot().Match("/users/7")
			Expect(ok).To(BeTrue())
			Expect(m.Rule.Timeout).To(Equal(2500 * time.Millisecond))

			stored, err := db.GetRule(ctx, rule.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Source).To(Equal("/users/{id}"))
		})

		It("should reject a malformed source pattern with the offending segment", func() {
			code, resp := call(http.MethodPost, "/api/rules", `{"name":"bad","source":"/a/{*rest}/b","target":"http://x/"}`)

			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Message).To(ContainSubstring("{*rest}"))
			Expect(table.Snapshot().Len()).To(BeZero())
		})

		It("should reject a body missing required fields", func() {
			code, resp := call(http.MethodPost, "/api/rules", `{"name":"x"}`)

			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(resp.Message).To(ContainSubstring("source"))
		})

		It("should reject unknown fields and negative timeouts", func() {
			code, _ := call(http.MethodPost, "/api/rules", `{"name":"x","source":"/a","target":"http://x/","color":"red"}`)
			Expect(code).To(Equal(http.StatusBadRequest))

			code, _ = call(http.MethodPost, "/api/rules", `{"name":"x","source":"/a","target":"http://x/","timeout_secs":-1}`)
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("should list rules in creation order", func() {
			first := createRule(`{"name":"one","source":"/one","target":"http://one/"}`)
			second := createRule(`{"name":"two","source":"/two","target":"http://two/"}`)

			code, resp := call(http.MethodGet, "/api/rules", "")
			Expect(code).To(Equal(http.StatusOK))

			var rules []ruleBody
			Expect(json.Unmarshal(resp.Data, &rules)).To(Succeed())
			Expect(rules).To(HaveLen(2))
			Expect(rules[0].ID).To(Equal(first.ID))
			Expect(rules[1].ID).To(Equal(second.ID))
		})

		It("should get, update and keep the enabled flag when omitted", func() {
			rule := createRule(`{"name":"one","source":"/one","target":"http://one/","enabled":false}`)

			code, resp := call(http.MethodPut, "/api/rules/"+rule.ID, `{"name":"one","source":"/uno","target":"http://uno/"}`)
			Expect(code).To(Equal(http.StatusOK), resp.Message)

			code, resp = call(http.MethodGet, "/api/rules/"+rule.ID, "")
			Expect(code).To(Equal(http.StatusOK))

			var got ruleBody
			Expect(json.Unmarshal(resp.Data, &got)).To(Succeed())
			Expect(got.Source).To(Equal("/uno"))
			Expect(got.Enabled).To(BeFalse())
		})

		It("should answer 404 for unknown rules", func() {
			code, _ := call(http.MethodGet, "/api/rules/nope", "")
			Expect(code).To(Equal(http.StatusNotFound))

			code, _ = call(http.MethodPut, "/api/rules/nope", `{"name":"x","source":"/a","target":"http://x/"}`)
			Expect(code).To(Equal(http.StatusNotFound))

			code, _ = call(http.MethodDelete, "/api/rules/nope", "")
			Expect(code).To(Equal(http.StatusNotFound))

			code, _ = call(http.MethodPost, "/api/rules/nope/toggle", `{"enabled":true}`)
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("should not recreate a rule deleted before the update lands", func() {
			rule := createRule(`{"name":"one","source":"/one","target":"http://one/"}`)

			code, _ := call(http.MethodDelete, "/api/rules/"+rule.ID, "")
			Expect(code).To(Equal(http.StatusOK))

			code, _ = call(http.MethodPut, "/api/rules/"+rule.ID, `{"name":"one","source":"/uno","target":"http://uno/"}`)
			Expect(code).To(Equal(http.StatusNotFound))

			_, err := table.Get(rule.ID)
			Expect(err).To(MatchError(ruletable.ErrRuleNotFound))
			Expect(table.List()).To(BeEmpty())
		})

		It("should reject an invalid body before looking the rule up", func() {
			code, _ := call(http.MethodPut, "/api/rules/nope", `{"name":"x"}`)
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("should toggle a rule", func() {
			rule := createRule(`{"name":"one","source":"/one","target":"http://one/"}`)

			code, _ := call(http.MethodPost, "/api/rules/"+rule.ID+"/toggle", `{"enabled":false}`)
			Expect(code).To(Equal(http.StatusOK))

			_, ok := table.Snapshot().Match("/one")
			Expect(ok).To(BeFalse())

			stored, err := db.GetRule(ctx, rule.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Enabled).To(BeFalse())
		})

		It("should require the enabled flag on toggle", func() {
			rule := createRule(`{"name":"one","source":"/one","target":"http://one/"}`)

			code, _ := call(http.MethodPost, "/api/rules/"+rule.ID+"/toggle", `{}`)
			Expect(code).To(Equal(http.StatusBadRequest))
		})

		It("should delete a rule and its metrics", func() {
			rule := createRule(`{"name":"one","source":"/one","target":"http://one/"}`)
			collector.Record(outcome.Outcome{RuleID: rule.ID, Status: http.StatusOK})
			Eventually(func() map[string]metrics.RuleMetrics {
				return collector.Snapshot().Rules
			}).Should(HaveKey(rule.ID))

			code, _ := call(http.MethodDelete, "/api/rules/"+rule.ID, "")
			Expect(code).To(Equal(http.StatusOK))

			Expect(table.Snapshot().Len()).To(BeZero())
			_, err := db.GetRule(ctx, rule.ID)
			Expect(err).To(MatchError(store.ErrNotFound))
			Eventually(func() map[string]metrics.RuleMetrics {
				return collector.Snapshot().Rules
			}).ShouldNot(HaveKey(rule.ID))
		})

		Context("when the store is failing", func() {
			BeforeEach(func() {
				build(brokenStore{})
			})

			It("should apply the change but report the persistence failure", func() {
				code, resp := call(http.MethodPost, "/api/rules", `{"name":"one","source":"/one","target":"http://one/"}`)

				Expect(code).To(Equal(http.StatusInternalServerError))
				Expect(resp.Message).To(ContainSubstring("applied in memory, persistence failed"))

				var rule ruleBody
				Expect(json.Unmarshal(resp.Data, &rule)).To(Succeed())

				_, ok := table.Snapshot().Match("/one")
				Expect(ok).To(BeTrue())
				Expect(table.DirtyIDs()).To(ConsistOf(rule.ID))
			})
		})
	})

	Describe("configs", func() {
		It("should list the live direct prefix", func() {
			code, resp := call(http.MethodGet, "/api/configs", "")
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(resp.Data)).To(ContainSubstring(`"value":"/proxy/"`))
		})

		It("should change the direct prefix live and store it", func() {
			code, resp := call(http.MethodPut, "/api/configs/direct_proxy_path", `{"value":"fetch"}`)
			Expect(code).To(Equal(http.StatusOK), resp.Message)

			Expect(decoder.Prefix()).To(Equal("/fetch/"))

			value, err := db.GetSetting(ctx, store.SettingDirectProxyPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("/fetch/"))
		})

		It("should reject an invalid prefix and leave the current one", func() {
			code, _ := call(http.MethodPut, "/api/configs/direct_proxy_path", `{"value":"///"}`)

			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(decoder.Prefix()).To(Equal("/proxy/"))
		})

		It("should reject unknown settings", func() {
			code, _ := call(http.MethodPut, "/api/configs/proxy_port", `{"value":"9000"}`)
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("status and metrics", func() {
		It("should report table and proxy state", func() {
			createRule(`{"name":"one","source":"/one","target":"http://one/"}`)

			code, resp := call(http.MethodGet, "/api/status", "")
			Expect(code).To(Equal(http.StatusOK))

			var status map[string]any
			Expect(json.Unmarshal(resp.Data, &status)).To(Succeed())
			Expect(status).To(HaveKeyWithValue("running", true))
			Expect(status).To(HaveKeyWithValue("rules_total", BeNumerically("==", 1)))
			Expect(status).To(HaveKeyWithValue("in_flight", BeNumerically("==", 3)))
			Expect(status).To(HaveKeyWithValue("direct_prefix", "/proxy/"))
		})

		It("should expose Prometheus metrics", func() {
			collector.Record(outcome.Outcome{RuleID: "r1", Status: http.StatusOK})
			Eventually(func() int64 { return collector.Snapshot().TotalRequests }).Should(Equal(int64(1)))

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("rule_proxy_requests_total"))
		})
	})
})
