package cmd

import (
	"fmt"
)

const banner = `
        _              
   ___ | |__   _ __ ___  
  / _ \| '_ \ | '_ ` + "`" + ` _ \ 
 |  __/| |_) || | | | | |
  \___||_.__/ |_| |_| |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Reference backend - Version %s\x1b[0m\n\n", Version)
}
