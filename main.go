// Command contextractor crawls websites and extracts their main content.
package main

import (
	"github.com/JakeFAU/contextractor/cmd"
)

func main() {
	cmd.Execute()
}
