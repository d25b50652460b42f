/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// bin2nlp-apikey manages API keys directly against the kv-store, for
// operators who do not want to go through the admin HTTP endpoints.
//
// Exit codes: 0 success, 1 invalid input, 2 infrastructure unreachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/config"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
)

const (
	exitOK         = 0
	exitValidation = 1
	exitInfra      = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return exitValidation
	}

	if path := os.Getenv("BIN2NLP_CONFIG"); path != "" {
		if err := config.LoadConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", path, err)
			return exitValidation
		}
	}
	if config.GetAuthHMACSecret() == "" {
		fmt.Fprintln(os.Stderr, "auth.hmac_secret is not configured")
		return exitValidation
	}

	kv, err := kvstore.NewClient(config.GetRedisURL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "kv-store unreachable: %v\n", err)
		return exitInfra
	}
	defer kv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := kv.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "kv-store unreachable: %v\n", err)
		return exitInfra
	}

	service := auth.NewService(kv, config.GetAuthHMACSecret(), config.GetAPIKeyPrefix())

	switch args[0] {
	case "create":
		return createKey(ctx, service, args[1:])
	case "list":
		return listKeys(ctx, service, args[1:])
	case "revoke":
		return revokeKey(ctx, service, args[1:])
	default:
		usage()
		return exitValidation
	}
}

func createKey(ctx context.Context, service *auth.Service, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	user := fs.String("user", "", "user the key belongs to")
	tier := fs.String("tier", string(auth.TierBasic), "rate limit tier (basic, standard, premium, enterprise)")
	permissions := fs.String("permissions", "read,write", "comma separated permissions (read, write, admin)")
	expiresIn := fs.Duration("expires-in", 0, "optional key lifetime, e.g. 720h")
	if err := fs.Parse(args); err != nil {
		return exitValidation
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "create: -user is required")
		return exitValidation
	}

	var perms []auth.Permission
	for _, p := range strings.Split(*permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, auth.Permission(p))
		}
	}

	var expiresAt *time.Time
	if *expiresIn > 0 {
		t := time.Now().UTC().Add(*expiresIn)
		expiresAt = &t
	}

	rawKey, key, err := service.CreateKey(ctx, *user, auth.Tier(*tier), perms, expiresAt)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("key_id:  %s\n", key.KeyID)
	fmt.Printf("user:    %s\n", key.UserID)
	fmt.Printf("tier:    %s\n", key.Tier)
	fmt.Printf("api_key: %s\n", rawKey)
	fmt.Println("store the api_key now; it cannot be recovered later")
	return exitOK
}

func listKeys(ctx context.Context, service *auth.Service, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	user := fs.String("user", "", "user whose keys to list")
	if err := fs.Parse(args); err != nil {
		return exitValidation
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "list: -user is required")
		return exitValidation
	}

	keys, err := service.ListKeys(ctx, *user)
	if err != nil {
		return fail(err)
	}
	if len(keys) == 0 {
		fmt.Println("no keys")
		return exitOK
	}
	for _, k := range keys {
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-10s  %-8s  %s  expires=%s\n",
			k.KeyID, k.Tier, k.Status, k.CreatedAt.Format(time.RFC3339), expires)
	}
	return exitOK
}

func revokeKey(ctx context.Context, service *auth.Service, args []string) int {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	user := fs.String("user", "", "user the key belongs to")
	keyID := fs.String("key-id", "", "key id to revoke")
	if err := fs.Parse(args); err != nil {
		return exitValidation
	}
	if *user == "" || *keyID == "" {
		fmt.Fprintln(os.Stderr, "revoke: -user and -key-id are required")
		return exitValidation
	}

	if err := service.RevokeKey(ctx, *user, *keyID); err != nil {
		return fail(err)
	}
	fmt.Printf("revoked %s\n", *keyID)
	return exitOK
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, err.Error())
	if errors.IsType(err, errors.TypeValidation) || errors.IsNotFound(err) {
		return exitValidation
	}
	return exitInfra
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: bin2nlp-apikey <command> [flags]

commands:
  create  -user <id> [-tier basic] [-permissions read,write] [-expires-in 720h]
  list    -user <id>
  revoke  -user <id> -key-id <id>

BIN2NLP_CONFIG points at the YAML config; BIN2NLP_* env vars override it.`)
}
