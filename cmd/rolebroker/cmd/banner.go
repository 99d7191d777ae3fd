package cmd

import (
	"fmt"
)

const banner = `
  ____       _      ____            _             
 |  _ \ ___ | | ___| __ ) _ __ ___ | | _____ _ __ 
 | |_) / _ \| |/ _ \  _ \| '__/ _ \| |/ / _ \ '__|
 |  _ < (_) | |  __/ |_) | | | (_) |   <  __/ |   
 |_| \_\___/|_|\___|____/|_|  \___/|_|\_\___|_|   
                                                  
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Session Credential Broker - Version %s\x1b[0m\n\n", Version)
}
