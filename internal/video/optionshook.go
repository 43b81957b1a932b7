package video

import (
	"bufio"
	"os/exec"
	"strings"

	"github.com/deskrelay/deskrelay/internal/category"
)

// NewCommandOptionsHook returns an OptionsHook that runs cmdline (a shell
// command run via "sh -c") on every (re)creation and parses its stdout as
// "key=value" lines into an Options map, the external-reconfiguration
// source named ffmpeg_options_cmd by the original implementation. An
// empty cmdline means no hook is configured; the caller should pass nil
// instead of this function in that case.
func NewCommandOptionsHook(cmdline string) OptionsHook {
	return func() (Options, error) {
		cmd := exec.Command("sh", "-c", cmdline)
		out, err := cmd.Output()
		if err != nil {
			return nil, category.Wrapf(category.Codec, "run options hook %q: %w", cmdline, err)
		}
		opts := make(Options)
		scanner := bufio.NewScanner(strings.NewReader(string(out)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			opts[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		return opts, nil
	}
}
