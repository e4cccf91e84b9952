package main

import "github.com/vietddude/indexer-base/internal/cli"

func main() {
	cli.Execute()
}
