package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: gateman keys <list|set|get|delete> [provider]")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "list":
		keysList(v)
	case "set":
		keysSet(v, providerArg(args))
	case "get":
		keysGet(v, providerArg(args))
	case "delete":
		keysDelete(v, providerArg(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}

// providerArg extracts the provider name shared by set, get and delete.
func providerArg(args []string) string {
	if len(args) < 2 {
		fmt.Printf("Usage: gateman keys %s <provider>\n", args[0])
		os.Exit(1)
	}
	return strings.ToLower(args[1])
}

func keysList(v *vault.Vault) {
	configured := 0
	for _, st := range v.Statuses() {
		switch st.Source {
		case vault.SourceKeychain:
			fmt.Printf("  %-10s keychain\n", st.Provider)
			configured++
		case vault.SourceEnv:
			fmt.Printf("  %-10s env (%s)\n", st.Provider, vault.EnvVar(st.Provider))
			configured++
		default:
			fmt.Printf("  %-10s not configured\n", st.Provider)
		}
	}
	if configured == 0 {
		fmt.Println("\nNo API keys stored. Add one with: gateman keys set <provider>")
	}
}

func keysSet(v *vault.Vault, provider string) {
	if !slices.Contains(catalog.Providers(), provider) {
		fmt.Fprintf(os.Stderr, "unknown provider %q (known: %s)\n", provider, strings.Join(catalog.Providers(), ", "))
		os.Exit(1)
	}

	fmt.Printf("Enter API key for %s: ", provider)
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
		os.Exit(1)
	}

	if err := v.Set(provider, string(key)); err != nil {
		fmt.Fprintf(os.Stderr, "error storing key: %v\n", err)
		fmt.Fprintf(os.Stderr, "If no keychain is available, export %s instead.\n", vault.EnvVar(provider))
		os.Exit(1)
	}
	fmt.Printf("Key for %s stored\n", provider)
}

func keysGet(v *vault.Vault, provider string) {
	key, err := v.Get(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key)
}

// keysDelete accepts any provider name, not just catalog ones, so entries
// stored under retired provider names can still be removed.
func keysDelete(v *vault.Vault, provider string) {
	if err := v.Delete(provider); err != nil {
		fmt.Fprintf(os.Stderr, "error deleting key: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Key for %s deleted\n", provider)
}
