package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rule-proxy/pkg/logger"
)

var _ = Describe("Logger", func() {
	var (
		ctx context.Context
		buf *bytes.Buffer
	)

	BeforeEach(func() {
		ctx = context.Background()
		buf = &bytes.Buffer{}
	})

	Describe("New", func() {
		DescribeTable("level handling",
			func(level string, enabled, disabled slog.Level) {
				log := logger.New(logger.Options{Level: level, Environment: "dev", Output: buf})

				Expect(log.Enabled(ctx, enabled)).To(BeTrue())
				Expect(log.Enabled(ctx, disabled)).To(BeFalse())
			},
			Entry("info", "info", slog.LevelInfo, slog.LevelDebug),
			Entry("debug", "debug", slog.LevelDebug, slog.LevelDebug-4),
			Entry("warn", "WARN", slog.LevelWarn, slog.LevelInfo),
			Entry("error", "error", slog.LevelError, slog.LevelWarn),
			Entry("invalid falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug),
		)

		It("should write text in dev with the environment attribute", func() {
			log := logger.New(logger.Options{Level: "info", Environment: "dev", Output: buf})
			log.Info("Rule table loaded", "rules", 3)

			Expect(buf.String()).To(ContainSubstring("environment=dev"))
			Expect(buf.String()).To(ContainSubstring(`msg="Rule table loaded"`))
			Expect(buf.String()).To(ContainSubstring("rules=3"))
		})

		It("should write JSON in prod", func() {
			log := logger.New(logger.Options{Level: "info", Environment: "prod", Output: buf})
			log.Warn("Upstream request failed", "kind", "BadGateway")

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("environment", "prod"))
			Expect(entry).To(HaveKeyWithValue("level", "WARN"))
			Expect(entry).To(HaveKeyWithValue("kind", "BadGateway"))
		})

		It("should include the source location when asked", func() {
			log := logger.New(logger.Options{Level: "info", Environment: "prod", AddSource: true, Output: buf})
			log.Info("hello")

			Expect(buf.String()).To(ContainSubstring(`"source"`))
		})
	})
})
