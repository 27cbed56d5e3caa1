package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"raftcluster/clock"
	"raftcluster/clusterconfig"
	"raftcluster/raft"
	"raftcluster/raftlog"
	"raftcluster/statemachine"
	rafttransport "raftcluster/transport/grpc"
)

func main() {
	nodeID := flag.String("id", "", "this node's member id")
	listenAddr := flag.String("listen", "127.0.0.1:7000", "address to listen on for peer RPCs")
	dataDir := flag.String("data", "./data", "directory for the durable raft log")
	peersFlag := flag.String("peers", "", "comma-separated id=host:port peer list, excluding this node")
	standby := flag.Bool("standby", false, "start in standby mode")
	flag.Parse()

	if *nodeID == "" {
		log.Fatal("Cluster node started without -id")
	}

	members := []clusterconfig.Member{{ID: *nodeID, Endpoint: *listenAddr}}
	peers := make(map[string]raft.Member)
	for _, spec := range strings.Split(*peersFlag, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 {
			log.Fatalf("invalid -peers entry %q, want id=host:port", spec)
		}
		members = append(members, clusterconfig.Member{ID: parts[0], Endpoint: parts[1]})
		peers[parts[0]] = rafttransport.NewPeer(parts[0], parts[1])
	}

	raftLog, err := raftlog.Open(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open raft log: %v", err)
	}
	defer raftLog.Close()

	configStore := clusterconfig.NewStore(members)
	sm := statemachine.New()

	cfg := raft.DefaultConfig()
	cfg.Standby = *standby

	logger := raft.NewLogger(*nodeID, logrus.InfoLevel)
	events := raft.Events{
		LeaderChanged: func(leaderID string, term uint64) {
			log.Printf("cluster leader is now %s (term %d)", leaderID, term)
		},
	}

	ctrl := raft.NewController(*nodeID, cfg, raftLog, configStore, peers, sm, clock.New(), logger, events)
	ctrl.SetMemberFactory(func(id, endpoint string) raft.Member { return rafttransport.NewPeer(id, endpoint) })

	server, err := rafttransport.NewServer(*listenAddr, ctrl)
	if err != nil {
		log.Fatalf("Failed to bind %s: %v", *listenAddr, err)
	}
	go func() {
		if err := server.Start(); err != nil {
			log.Printf("grpc server stopped: %v", err)
		}
	}()
	defer server.Stop()

	ctx := context.Background()
	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	defer ctrl.Stop()

	log.Printf("Raft cluster node %s listening on %s", *nodeID, *listenAddr)
	log.Println("Enter commands: PUT <key> <value>, GET <key>, DELETE <key>, STATS, STATE, RESIGN, STANDBY, RESUME, QUIT")

	runREPL(ctx, ctrl, sm)
}

func runREPL(ctx context.Context, ctrl *raft.Controller, sm *statemachine.Store) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		switch cmd {
		case "PUT":
			if len(parts) < 3 {
				fmt.Println("Usage: PUT <key> <value>")
				continue
			}
			payload, err := statemachine.EncodePut(parts[1], []byte(strings.Join(parts[2:], " ")))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			if _, err := ctrl.Replicate(ctx, payload); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "GET":
			if len(parts) != 2 {
				fmt.Println("Usage: GET <key>")
				continue
			}
			if err := ctrl.ApplyReadBarrier(ctx); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			value, err := sm.Get(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("%s\n", value)
			}

		case "DELETE":
			if len(parts) != 2 {
				fmt.Println("Usage: DELETE <key>")
				continue
			}
			payload, err := statemachine.EncodeDelete(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			if _, err := ctrl.Replicate(ctx, payload); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "STATS":
			for k, v := range sm.Stats() {
				fmt.Printf("  %s: %v\n", k, v)
			}

		case "STATE":
			role, term, leader := ctrl.GetState()
			fmt.Printf("role=%s term=%d leader=%s\n", role, term, leader)

		case "RESIGN":
			ok, err := ctrl.Resign(ctx)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else if !ok {
				fmt.Println("Not the leader")
			} else {
				fmt.Println("OK")
			}

		case "STANDBY":
			if err := ctrl.EnableStandbyMode(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "RESUME":
			if err := ctrl.RevertToNormalMode(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "QUIT", "EXIT":
			fmt.Println("Shutting down...")
			return

		default:
			fmt.Println("Unknown command. Available: PUT, GET, DELETE, STATS, STATE, RESIGN, STANDBY, RESUME, QUIT")
		}
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("Error reading input: %v", err)
	}
}
