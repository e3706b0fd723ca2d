// Package cleanup removes leftovers of the browser-automation layer at
// process shutdown. Everything here is best-effort: a cleanup failure is a
// warning, never a failure of the shutdown itself.
package cleanup

import (
	"context"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog"
)

// KillBrowserProcesses terminates automation browser processes that may have
// been orphaned by a dead driver instance.
func KillBrowserProcesses(ctx context.Context, log zerolog.Logger) {
	log = log.With().Str("component", "cleanup").Logger()

	var cmds [][]string
	if runtime.GOOS == "windows" {
		cmds = [][]string{
			{"taskkill", "/F", "/IM", "chrome.exe", "/T"},
			{"taskkill", "/F", "/IM", "chromedriver.exe", "/T"},
		}
	} else {
		cmds = [][]string{
			{"pkill", "-f", "chrome"},
		}
	}

	for _, args := range cmds {
		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		if err := cmd.Run(); err != nil {
			// pkill exits non-zero when nothing matched; not worth more
			// than a debug line either way.
			log.Debug().Err(err).Strs("cmd", args).Msg("browser cleanup command finished with error")
			continue
		}
		log.Info().Strs("cmd", args).Msg("terminated leftover browser processes")
	}
}
