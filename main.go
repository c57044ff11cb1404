// The main package for the scholar-crawler executable.
package main

import (
	"github.com/JakeFAU/scholar-crawler/cmd"
)

func main() {
	cmd.Execute()
}
