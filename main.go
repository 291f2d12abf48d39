package main

import (
	"os"

	"github.com/teamtrack/teamtrack/coremain"
	"github.com/teamtrack/teamtrack/mlog"
)

func main() {
	if err := coremain.Run(); err != nil {
		mlog.S().Fatal(err)
	}
	_ = mlog.L().Sync()
	os.Exit(0)
}
