// Command synckit-bench exercises a coordination kernel under synthetic
// load and reports latency distributions for lock acquisition and worker
// pool execution.
package main

import (
	"context"
	"os"
)

func main() {
	os.Exit(submain(context.Background()))
}
