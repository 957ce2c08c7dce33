package pattern_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rule-proxy/internal/pattern"
)

var _ = Describe("Template", func() {
	resolve := func(raw string, caps pattern.Captures, query string) (string, error) {
		t, err := pattern.CompileTemplate(raw)
		Expect(err).NotTo(HaveOccurred())
		u, err := t.Resolve(caps, query)
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}

	Describe("CompileTemplate", func() {
		It("should list placeholders in order", func() {
			t, err := pattern.CompileTemplate("https://{host}.internal/{*path}?id={id}")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Placeholders()).To(Equal([]string{"host", "path", "id"}))
			Expect(t.String()).To(Equal("https://{host}.internal/{*path}?id={id}"))
		})

		DescribeTable("rejects malformed placeholders",
			func(raw string) {
				_, err := pattern.CompileTemplate(raw)
				var perr *pattern.PatternError
				Expect(errors.As(err, &perr)).To(BeTrue())
			},
			Entry("empty", ""),
			Entry("unclosed", "https://backend/{id"),
			Entry("unopened", "https://backend/id}"),
			Entry("nested", "https://backend/{{id}}"),
			Entry("empty name", "https://backend/{}"),
			Entry("bad name", "https://backend/{9}"),
		)
	})

	Describe("Resolve", func() {
		It("should substitute a catch-all verbatim", func() {
			u, err := resolve("https://backend/{*path}", pattern.Captures{{Name: "path", Value: "v1/users/42"}}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/v1/users/42"))
		})

		It("should substitute positional captures", func() {
			u, err := resolve("http://users:8080/profile/{id}", pattern.Captures{{Name: "id", Value: "77"}}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("http://users:8080/profile/77"))
		})

		It("should append the inbound query", func() {
			u, err := resolve("https://backend/{id}", pattern.Captures{{Name: "id", Value: "1"}}, "a=1&b=2")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/1?a=1&b=2"))
		})

		It("should merge the inbound query with the template query", func() {
			u, err := resolve("https://backend/search?q={term}", pattern.Captures{{Name: "term", Value: "go"}}, "page=2")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/search?q=go&page=2"))
		})

		DescribeTable("escapes URL delimiters in captured path text",
			func(value, want, wantPath string) {
				tmpl, err := pattern.CompileTemplate("http://backend/users/{id}/profile")
				Expect(err).NotTo(HaveOccurred())

				u, err := tmpl.Resolve(pattern.Captures{{Name: "id", Value: value}}, "")
				Expect(err).NotTo(HaveOccurred())
				Expect(u.String()).To(Equal(want))
				Expect(u.Path).To(Equal(wantPath))
				Expect(u.RawQuery).To(BeEmpty())
				Expect(u.Fragment).To(BeEmpty())
			},
			Entry("question mark", "a?admin=1", "http://backend/users/a%3Fadmin=1/profile", "/users/a?admin=1/profile"),
			Entry("hash", "a#b", "http://backend/users/a%23b/profile", "/users/a#b/profile"),
			Entry("percent", "100%", "http://backend/users/100%25/profile", "/users/100%/profile"),
		)

		It("should keep catch-all slashes while escaping each segment", func() {
			u, err := resolve("https://backend/{*path}", pattern.Captures{{Name: "path", Value: "docs/a b/c?d"}}, "x=1")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/docs/a%20b/c%3Fd?x=1"))
		})

		It("should escape captures placed in the template query", func() {
			u, err := resolve("https://backend/search?q={term}", pattern.Captures{{Name: "term", Value: "a&b=c#d"}}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/search?q=a%26b%3Dc%23d"))
		})

		It("should fail on an undeclared capture name", func() {
			_, err := resolve("https://backend/{missing}", pattern.Captures{{Name: "id", Value: "1"}}, "")
			var rerr *pattern.ResolutionError
			Expect(errors.As(err, &rerr)).To(BeTrue())
			Expect(rerr.Placeholder).To(Equal("{missing}"))
		})

		It("should fail on a relative result", func() {
			_, err := resolve("/local/{id}", pattern.Captures{{Name: "id", Value: "1"}}, "")
			var rerr *pattern.ResolutionError
			Expect(errors.As(err, &rerr)).To(BeTrue())
		})

		It("should fail when a capture injects an invalid host", func() {
			_, err := resolve("http://{host}/x", pattern.Captures{{Name: "host", Value: "bad host"}}, "")
			var rerr *pattern.ResolutionError
			Expect(errors.As(err, &rerr)).To(BeTrue())
		})

		DescribeTable("rejects non-http schemes",
			func(raw string) {
				_, err := resolve(raw, pattern.Captures{{Name: "p", Value: "etc/passwd"}}, "")
				var rerr *pattern.ResolutionError
				Expect(errors.As(err, &rerr)).To(BeTrue())
				Expect(rerr.Reason).To(ContainSubstring("scheme"))
			},
			Entry("file", "file://host/{p}"),
			Entry("ftp", "ftp://host/{p}"),
			Entry("gopher", "gopher://host/{p}"),
		)

		It("should let a capture choose the scheme only among http and https", func() {
			u, err := resolve("{scheme}://backend/", pattern.Captures{{Name: "scheme", Value: "https"}}, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(u).To(Equal("https://backend/"))

			_, err = resolve("{scheme}://backend/", pattern.Captures{{Name: "scheme", Value: "ws"}}, "")
			Expect(err).To(HaveOccurred())
		})
	})
})
