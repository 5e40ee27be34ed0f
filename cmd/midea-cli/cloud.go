package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"

	"github.com/joshp123/midea/internal/config"
	"github.com/joshp123/midea/plugins/midea"
)

func cloudClient(ctx context.Context, configPath string) *midea.Client {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("load config", err)
	}
	runtimeCfg, err := midea.ConfigFromFile(cfg.Midea)
	if err != nil {
		fatal("midea config", err)
	}
	client, err := midea.NewClient(ctx, runtimeCfg)
	if err != nil {
		fatal("connect", err)
	}
	return client
}

func cloudFlags(name string) (*flag.FlagSet, *string, *bool) {
	flags := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := flags.String("config", resolveConfigPath(), "path to config file")
	jsonOut := flags.Bool("json", false, "print JSON")
	return flags, configPath, jsonOut
}

func loginCmd(ctx context.Context, args []string) {
	flags, configPath, jsonOut := cloudFlags("login")
	_ = flags.Parse(args)

	client := cloudClient(ctx, *configPath)
	if err := client.Login(ctx); err != nil {
		fatal("login", err)
	}
	session := client.Session()
	out := outputMode{json: *jsonOut}
	if out.json {
		out.printJSON(map[string]string{"login_id": client.LoginID(), "user_id": session.UserID})
		return
	}
	fmt.Printf("logged in as user %s (login id %s)\n", session.UserID, client.LoginID())
}

func homeGroupsCmd(ctx context.Context, args []string) {
	flags, configPath, jsonOut := cloudFlags("homegroups")
	refresh := flags.Bool("refresh", false, "bypass the cached list")
	_ = flags.Parse(args)

	client := cloudClient(ctx, *configPath)
	groups, err := client.ListHomeGroups(ctx, *refresh)
	if err != nil {
		fatal("list home groups", err)
	}
	out := outputMode{json: *jsonOut}
	if out.json {
		out.printJSON(groups)
		return
	}
	rows := [][]string{{"ID", "NAME", "DEFAULT"}}
	for _, g := range groups {
		rows = append(rows, []string{g.ID, g.Name, yesNo(g.IsDefault)})
	}
	out.table(rows)
}

func listCmd(ctx context.Context, args []string) {
	flags, configPath, jsonOut := cloudFlags("list")
	homeGroup := flags.String("homegroup", "", "home group id (default: server default)")
	_ = flags.Parse(args)

	client := cloudClient(ctx, *configPath)
	appliances, err := client.ListAppliances(ctx, *homeGroup)
	if err != nil {
		fatal("list appliances", err)
	}
	out := outputMode{json: *jsonOut}
	if out.json {
		out.printJSON(appliances)
		return
	}
	rows := [][]string{{"ID", "NAME", "TYPE", "MODEL", "ONLINE", "ACTIVE"}}
	for _, a := range appliances {
		rows = append(rows, []string{a.ID, a.Name, a.Type, a.ModelNumber, yesNo(a.Online), yesNo(a.Active)})
	}
	out.table(rows)
}

func sendCmd(ctx context.Context, args []string) {
	flags, configPath, jsonOut := cloudFlags("send")
	applianceID := flags.String("appliance", "", "appliance id")
	order := flags.String("hex", "", "raw order bytes as hex")
	_ = flags.Parse(args)

	if *applianceID == "" {
		fatal("send", fmt.Errorf("missing --appliance"))
	}
	payload, err := hex.DecodeString(strings.TrimSpace(*order))
	if err != nil || len(payload) == 0 {
		fatal("send", fmt.Errorf("--hex must be a non-empty hex string"))
	}

	client := cloudClient(ctx, *configPath)
	reply, err := client.TransparentSend(ctx, *applianceID, payload)
	if err != nil {
		fatal("send", err)
	}
	out := outputMode{json: *jsonOut}
	if out.json {
		out.printJSON(map[string]any{"appliance_id": *applianceID, "pending": reply == nil, "reply": hex.EncodeToString(reply)})
		return
	}
	if reply == nil {
		fmt.Println("no reply yet")
		return
	}
	fmt.Println(hex.EncodeToString(reply))
}
