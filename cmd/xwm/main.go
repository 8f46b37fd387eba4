// Command xwm inspects and loads checkpoints of the Qwen model families.
package main

import (
	"os"

	"github.com/tsingmao/xwm/cmd/xwm/app"
)

func main() {
	os.Exit(app.Execute(os.Args[1:]))
}
