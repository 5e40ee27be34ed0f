package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joshp123/midea/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "login":
		loginCmd(ctx, os.Args[2:])
	case "homegroups":
		homeGroupsCmd(ctx, os.Args[2:])
	case "list":
		listCmd(ctx, os.Args[2:])
	case "send":
		sendCmd(ctx, os.Args[2:])
	case "services":
		servicesCmd(ctx, dial(ctx))
	case "methods":
		methodsCmd(ctx, dial(ctx), os.Args[2:])
	case "health":
		healthCmd(ctx, dial(ctx), os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func dial(ctx context.Context) *grpc.ClientConn {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := grpcurl.BlockingDial(dialCtx, "tcp", resolveAddr(), insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	return conn
}

func servicesCmd(ctx context.Context, conn *grpc.ClientConn) {
	defer conn.Close()
	services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
	if err != nil {
		fatal("list services", err)
	}
	for _, service := range services {
		fmt.Println(service)
	}
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	defer conn.Close()
	if len(args) < 1 {
		fatal("methods", fmt.Errorf("missing service name"))
	}
	methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), args[0])
	if err != nil {
		fatal("list methods", err)
	}
	for _, method := range methods {
		fmt.Println(method)
	}
}

func healthCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	defer conn.Close()
	flags := flag.NewFlagSet("health", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "print JSON")
	_ = flags.Parse(args)

	service := ""
	if flags.NArg() > 0 {
		service = flags.Arg(0)
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		fatal("health", err)
	}
	if *jsonOut {
		data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			fatal("format json", err)
		}
		fmt.Println(string(data))
		return
	}
	fmt.Println(resp.GetStatus().String())
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	client := grpcreflect.NewClientAuto(ctx, conn)
	return grpcurl.DescriptorSourceFromServer(ctx, client)
}

func resolveAddr() string {
	if value := os.Getenv("MIDEA_GRPC_ADDR"); value != "" {
		return value
	}
	if cfg, err := config.Load(resolveConfigPath()); err == nil && cfg.Core != nil {
		return cfg.Core.GRPCAddr
	}
	return "localhost:9000"
}

func resolveConfigPath() string {
	if value := os.Getenv("MIDEA_CONFIG"); value != "" {
		return value
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		path := filepath.Join(home, ".config", "midea", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return config.DefaultPath
}

func usage() {
	fmt.Println("midea-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Cloud commands (read the config file, talk to the Midea cloud):")
	fmt.Println("  login [--json]")
	fmt.Println("  homegroups [--refresh] [--json]")
	fmt.Println("  list [--homegroup <id>] [--json]")
	fmt.Println("  send --appliance <id> --hex <order> [--json]")
	fmt.Println("")
	fmt.Println("Daemon commands (gRPC):")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  health [--json] [service]")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
