package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"rewardnet/core"
	"rewardnet/core/types"
	"rewardnet/crypto"
	"rewardnet/native/rewards"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("REWARDNET_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		generateKey()
	case "create-plan":
		if len(args) < 6 {
			fmt.Println("Error: Please provide a name, threshold, allowed caller, asset symbol and a key file.")
			printUsage()
			return
		}
		threshold, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid threshold.")
			return
		}
		uri := ""
		keyFile := args[5]
		if len(args) >= 7 {
			uri = args[5]
			keyFile = args[6]
		}
		createPlan(args[1], threshold, args[3], args[4], uri, keyFile)
	case "end-plan":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a plan name and a key file.")
			printUsage()
			return
		}
		endPlan(args[1], args[2])
	case "get-plan":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an admin address and a plan name.")
			printUsage()
			return
		}
		getPlan(args[1], args[2])
	case "list-plans":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an admin address.")
			printUsage()
			return
		}
		listPlans(args[1])
	case "balance":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and an asset symbol.")
			printUsage()
			return
		}
		getBalance(args[1], args[2])
	case "authority":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an admin address and a plan name.")
			printUsage()
			return
		}
		getAuthority(args[1], args[2])
	default:
		fmt.Printf("Unknown command: %s\n", args[0])
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: rewardnet-cli [--rpc <url>] <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key")
	fmt.Println("  create-plan <name> <threshold> <allowed-caller> <symbol> [metadata-uri] <key-file>")
	fmt.Println("  end-plan <name> <key-file>")
	fmt.Println("  get-plan <admin> <name>")
	fmt.Println("  list-plans <admin>")
	fmt.Println("  balance <address> <symbol>")
	fmt.Println("  authority <admin> <name>")
}

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a URL argument")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your address is: %s\n", key.PubKey().Address().String())
}

func createPlan(name string, threshold uint64, allowedCaller, symbol, uri, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}

	params, _ := json.Marshal(map[string]interface{}{
		"name":           name,
		"threshold":      threshold,
		"allowedCaller":  allowedCaller,
		"metadataSymbol": symbol,
		"metadataUri":    uri,
	})
	if err := submit(privKey, core.OpCreateRewardPlan, params); err != nil {
		fmt.Printf("Error creating plan: %v\n", err)
		return
	}
	fmt.Printf("Plan %q created. Asset %s is mintable only by its derived authority.\n", name, strings.ToUpper(symbol))
}

func endPlan(name, keyFile string) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		fmt.Printf("Error loading private key: %v\n", err)
		return
	}
	params, _ := json.Marshal(map[string]string{"name": name})
	if err := submit(privKey, core.OpEndRewardPlan, params); err != nil {
		fmt.Printf("Error ending plan: %v\n", err)
		return
	}
	fmt.Printf("Plan %q ended.\n", name)
}

func submit(privKey *crypto.PrivateKey, op string, params json.RawMessage) error {
	tx := types.Transaction{
		Nonce: 0,
		Instructions: []types.Instruction{{
			Program: rewards.ProgramAddress,
			Op:      op,
			Params:  params,
		}},
	}
	if err := tx.Sign(privKey.PrivateKey); err != nil {
		return err
	}
	return sendTransaction(&tx)
}

func getPlan(admin, name string) {
	result, err := rpcCall("rewards_getPlan", map[string]string{"admin": admin, "name": name}, false)
	if err != nil {
		fmt.Printf("Error fetching plan: %v\n", err)
		return
	}
	printJSON(result)
}

func listPlans(admin string) {
	result, err := rpcCall("rewards_listPlans", map[string]string{"admin": admin}, false)
	if err != nil {
		fmt.Printf("Error listing plans: %v\n", err)
		return
	}
	printJSON(result)
}

func getBalance(addr, symbol string) {
	result, err := rpcCall("rewards_getBalance", map[string]string{"address": addr, "asset": symbol}, false)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	printJSON(result)
}

func getAuthority(admin, name string) {
	result, err := rpcCall("rewards_getAuthority", map[string]string{"admin": admin, "name": name}, false)
	if err != nil {
		fmt.Printf("Error deriving authority: %v\n", err)
		return
	}
	printJSON(result)
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func sendTransaction(tx *types.Transaction) error {
	_, err := rpcCall("rewards_sendTransaction", tx, true)
	return err
}

func rpcCall(method string, params interface{}, requireAuth bool) (json.RawMessage, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"id": 1, "jsonrpc": "2.0", "method": method, "params": []interface{}{params},
	})
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return nil, fmt.Errorf("privileged RPC call requires REWARDNET_RPC_TOKEN to be set")
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run rewardnet-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	return crypto.PrivateKeyFromBytes(keyBytes)
}
