// Command verbgen searches for a perfect hash over the closed verb set. It
// tries small multiplier/size combinations until every verb lands in its own
// slot, then prints the size, the multipliers, and each verb's slot to
// stdout. It does not write verbs.go.
package main

import (
	"fmt"
	"os"
)

var verbs = []string{
	"search", "execute", "init", "cleanup",
	"refresh", "configure", "validate", "status",
}

func hash(v string, a, b, size uint32) uint32 {
	return (a*uint32(v[0]) + b*uint32(v[len(v)-1]) + uint32(len(v))) & (size - 1)
}

func main() {
	for _, size := range []uint32{16, 32, 64} {
		for a := uint32(1); a < 64; a += 2 {
			for b := uint32(1); b < 64; b += 2 {
				slots := make(map[uint32]string, len(verbs))
				ok := true
				for _, v := range verbs {
					h := hash(v, a, b, size)
					if _, taken := slots[h]; taken {
						ok = false
						break
					}
					slots[h] = v
				}
				if !ok {
					continue
				}
				fmt.Printf("// size=%d a=%d b=%d\n", size, a, b)
				for h, v := range slots {
					fmt.Printf("%d: %q\n", h, v)
				}
				return
			}
		}
	}
	fmt.Fprintln(os.Stderr, "no perfect hash found in search space")
	os.Exit(1)
}
