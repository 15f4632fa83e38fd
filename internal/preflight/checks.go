package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"curio/internal/config"
	"curio/internal/services/llm"
)

// CheckSemanticGateway verifies that the semantic gateway is reachable and
// the key is valid. It uses a 30-second timeout and a single attempt.
func CheckSemanticGateway(ctx context.Context, cfg *config.Config) Result {
	const name = "Semantic gateway"

	if cfg.Semantic.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:         cfg.Semantic.APIKey,
		BaseURL:        cfg.Semantic.BaseURL,
		Model:          cfg.Semantic.Model,
		Referer:        cfg.Semantic.Referer,
		Title:          cfg.Semantic.Title,
		TimeoutSeconds: cfg.Semantic.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeGatewayError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minGiB gibibytes available to unprivileged writes. A floor of zero or
// less passes unconditionally.
func CheckFreeSpace(name, path string, minGiB int) Result {
	if minGiB <= 0 {
		return Result{Name: name, Passed: true, Detail: "no floor configured"}
	}

	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}

	available := st.Bavail * uint64(st.Bsize)
	floor := uint64(minGiB) << 30
	detail := fmt.Sprintf("%.1f GiB free, %d GiB required", float64(available)/float64(1<<30), minGiB)
	if available < floor {
		return Result{Name: name, Detail: detail}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// summarizeGatewayError produces a human-readable summary for gateway
// health check failures.
func summarizeGatewayError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (gateway unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (gateway unreachable)"
	}
	return err.Error()
}
