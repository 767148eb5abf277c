package svc

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
)

// LogOptions selects which service logs to show.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
}

// ViewLogs streams the service logs to stdout using the platform's log tool.
func ViewLogs(opts LogOptions) error {
	argv, err := logsCommand(runtime.GOOS, opts)
	if err != nil {
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}

// logsCommand returns the command line that shows the logs on goos.
func logsCommand(goos string, opts LogOptions) ([]string, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultName
	}
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	lines := strconv.Itoa(opts.Lines)

	switch goos {
	case "linux":
		argv := []string{"journalctl", "-u", opts.ServiceName, "-n", lines, "--no-pager"}
		if opts.Follow {
			argv = append(argv, "-f")
		}
		return argv, nil
	case "darwin":
		// launchd writes the service output to these files.
		argv := []string{"tail", "-n", lines}
		if opts.Follow {
			argv = append(argv, "-f")
		}
		return append(argv,
			fmt.Sprintf("/var/log/%s.err.log", opts.ServiceName),
			fmt.Sprintf("/var/log/%s.out.log", opts.ServiceName),
		), nil
	case "windows":
		if opts.Follow {
			return nil, fmt.Errorf("--follow is not supported on windows; use Event Viewer")
		}
		script := fmt.Sprintf(
			"Get-WinEvent -FilterHashtable @{LogName='Application'; ProviderName='%s'} -MaxEvents %d -ErrorAction SilentlyContinue | "+
				"Format-Table -Property TimeCreated, LevelDisplayName, Message -AutoSize -Wrap",
			opts.ServiceName, opts.Lines)
		return []string{"powershell", "-NoProfile", "-Command", script}, nil
	default:
		return nil, fmt.Errorf("log viewing not supported on %s", goos)
	}
}
