// Global index config.
package config

// Name of the database.
const DBName = "nirdb"

// Prompt printed by REPL.
const Prompt = DBName + "> "

// Dimensionality of indexed points. Fixed at build time.
const Dimensions = 2

// Default memory budget for a tree's buffer pool, in bytes.
const DefaultMemoryBudget = 32 * 4096

// Suffix of the root-handle sidecar file.
const MetaSuffix = ".meta"

// Suffix of the checkpoint journal file.
const JournalSuffix = ".chk"

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
