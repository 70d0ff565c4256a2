package cli_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-json-experiment/json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-rrio/internal/cli"
)

var _ = Describe("rrio command", func() {
	var (
		server *httptest.Server
		dir    string
	)

	BeforeEach(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/ok/", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, strings.TrimPrefix(r.URL.Path, "/ok/"))
		})
		mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusGone)
		})
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
		dir = GinkgoT().TempDir()
	})

	execute := func(input string, args ...string) (string, error) {
		cmd := cli.NewRootCommand()
		var stdout, stderr bytes.Buffer
		cmd.SetIn(strings.NewReader(input))
		cmd.SetOut(&stdout)
		cmd.SetErr(&stderr)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return stdout.String(), err
	}

	decodeLines := func(s string) []map[string]any {
		var out []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
			if line == "" {
				continue
			}
			var m map[string]any
			Expect(json.Unmarshal([]byte(line), &m)).To(Succeed())
			out = append(out, m)
		}
		return out
	}

	It("writes responses to stdout and errors to the errors file", func() {
		errorsPath := filepath.Join(dir, "errors.jsonl")
		input := strings.Join([]string{
			server.URL + "/ok/a",
			"# comment",
			"",
			`{"method":"GET","url":"` + server.URL + `/ok/b"}`,
			server.URL + "/gone",
		}, "\n")

		stdout, err := execute(input, "--workers", "2", "--errors-out", errorsPath)
		Expect(err).NotTo(HaveOccurred())

		responses := decodeLines(stdout)
		Expect(responses).To(HaveLen(2))
		bodies := []string{}
		for _, r := range responses {
			bodies = append(bodies, r["response"].(map[string]any)["body"].(string))
		}
		Expect(bodies).To(ConsistOf("a", "b"))

		data, err := os.ReadFile(errorsPath)
		Expect(err).NotTo(HaveOccurred())
		records := decodeLines(string(data))
		Expect(records).To(HaveLen(1))
		Expect(records[0]["classification"]).To(Equal("terminal"))
		Expect(records[0]["attempts"]).To(BeNumerically("==", 1))
		Expect(records[0]["backoff"]).To(Equal("0s"))
	})

	It("applies a config file with a memory cache", func() {
		configPath := filepath.Join(dir, "rrio.yaml")
		Expect(os.WriteFile(configPath, []byte(`
name: cli-test
backoff:
  base_delay: 1ms
  max_attempts: 2
cache:
  backend: memory
  max_entries: 100
  ttl: 1m
`), 0o600)).To(Succeed())

		input := server.URL + "/ok/same\n" + server.URL + "/ok/same\n"
		stdout, err := execute(input, "--config", configPath)
		Expect(err).NotTo(HaveOccurred())

		responses := decodeLines(stdout)
		Expect(responses).To(HaveLen(2))
		cached := 0
		for _, r := range responses {
			if r["cached"] == true {
				cached++
			}
		}
		Expect(cached).To(Equal(1))
	})

	It("rejects malformed JSON requests", func() {
		_, err := execute(`{"url":`)
		Expect(err).To(MatchError(ContainSubstring("line 1")))
	})

	It("fails on a missing config file", func() {
		_, err := execute("", "--config", filepath.Join(dir, "missing.yaml"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})
})
