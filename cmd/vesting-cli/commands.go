package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tokenvesting/cmd/internal/passphrase"
	"tokenvesting/crypto"
	"tokenvesting/native/vesting"
	"tokenvesting/rpc"
)

func (c *cli) runKeygen(args []string) int {
	fs := newFlagSet("keygen", c.stderr)
	out := fs.String("out", c.keystore, "keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		return printError(c.stderr, "--out is required")
	}
	pass, err := passphrase.NewSource(envPassphrase, "keystore passphrase").WithConfirmation().Get()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return c.fail(err)
	}
	return c.emit(map[string]string{"identity": crypto.FormatIdentity(key.Identity()), "keystore": *out})
}

func (c *cli) runAddress(args []string) int {
	if len(args) > 0 {
		return printError(c.stderr, "address takes no arguments")
	}
	key, err := c.signingKey()
	if err != nil {
		return c.fail(err)
	}
	return c.emit(map[string]string{"identity": crypto.FormatIdentity(key.Identity())})
}

func (c *cli) runDerive(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "derive requires schedule or grant")
	}
	switch args[0] {
	case "schedule":
		fs := newFlagSet("derive schedule", c.stderr)
		company := fs.String("company", "", "company name")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		schedule, treasury, err := vesting.ScheduleAddress(c.namespace, *company)
		if err != nil {
			return c.fail(err)
		}
		return c.emit(rpc.DerivedView{Address: crypto.FormatAccount(schedule), Treasury: crypto.FormatAccount(treasury)})
	case "grant":
		fs := newFlagSet("derive grant", c.stderr)
		beneficiaryStr := fs.String("beneficiary", "", "beneficiary identity (vest1...)")
		scheduleStr := fs.String("schedule", "", "schedule address (vacct1...)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		beneficiary, err := crypto.ParseAddress(*beneficiaryStr, crypto.IdentityPrefix)
		if err != nil {
			return printError(c.stderr, "--beneficiary: "+err.Error())
		}
		schedule, err := crypto.ParseAddress(*scheduleStr, crypto.AccountPrefix)
		if err != nil {
			return printError(c.stderr, "--schedule: "+err.Error())
		}
		addr, _, err := vesting.GrantAddress(c.namespace, beneficiary, schedule)
		if err != nil {
			return c.fail(err)
		}
		return c.emit(rpc.DerivedView{Address: crypto.FormatAccount(addr)})
	default:
		return printError(c.stderr, "unknown derive target "+args[0])
	}
}

func (c *cli) runAsset(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "asset requires register or get")
	}
	fs := newFlagSet("asset "+args[0], c.stderr)
	asset := fs.String("asset", "", "asset identifier")
	decimals := fs.Uint("decimals", 0, "display decimals")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(*asset) == "" {
		return printError(c.stderr, "--asset is required")
	}
	var view rpc.AssetView
	switch args[0] {
	case "register":
		if *decimals > 255 {
			return printError(c.stderr, "--decimals must be <= 255")
		}
		if err := c.submit(rpc.RouteRegisterAsset, rpc.RegisterAssetRequest{Asset: *asset, Decimals: uint8(*decimals)}, &view); err != nil {
			return c.fail(err)
		}
	case "get":
		if err := c.query("/v1/assets/"+url.PathEscape(*asset), &view); err != nil {
			return c.fail(err)
		}
	default:
		return printError(c.stderr, "unknown asset subcommand "+args[0])
	}
	return c.emit(view)
}

func (c *cli) runAccount(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "account requires open or get")
	}
	fs := newFlagSet("account "+args[0], c.stderr)
	asset := fs.String("asset", "", "asset identifier")
	address := fs.String("address", "", "account address")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	var view rpc.AccountView
	switch args[0] {
	case "open":
		if strings.TrimSpace(*asset) == "" {
			return printError(c.stderr, "--asset is required")
		}
		if err := c.submit(rpc.RouteOpenAccount, rpc.OpenAccountRequest{Asset: *asset}, &view); err != nil {
			return c.fail(err)
		}
	case "get":
		if strings.TrimSpace(*address) == "" {
			return printError(c.stderr, "--address is required")
		}
		if err := c.query("/v1/accounts/"+url.PathEscape(*address), &view); err != nil {
			return c.fail(err)
		}
	default:
		return printError(c.stderr, "unknown account subcommand "+args[0])
	}
	return c.emit(view)
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || amount == 0 {
		return 0, fmt.Errorf("--amount must be a positive integer in base units")
	}
	return amount, nil
}

func (c *cli) runMint(args []string) int {
	fs := newFlagSet("mint", c.stderr)
	asset := fs.String("asset", "", "asset identifier")
	to := fs.String("to", "", "destination account")
	amountStr := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return c.fail(err)
	}
	var view rpc.AccountView
	if err := c.submit(rpc.RouteMint, rpc.MintRequest{Asset: *asset, To: *to, Amount: amount}, &view); err != nil {
		return c.fail(err)
	}
	return c.emit(view)
}

func (c *cli) runTransfer(args []string) int {
	fs := newFlagSet("transfer", c.stderr)
	from := fs.String("from", "", "source account")
	to := fs.String("to", "", "destination account")
	asset := fs.String("asset", "", "asset identifier")
	amountStr := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	amount, err := parseAmount(*amountStr)
	if err != nil {
		return c.fail(err)
	}
	var view rpc.TransferView
	if err := c.submit(rpc.RouteTransfer, rpc.TransferRequest{From: *from, To: *to, Asset: *asset, Amount: amount}, &view); err != nil {
		return c.fail(err)
	}
	return c.emit(view)
}

func (c *cli) runSchedule(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "schedule requires create, get or list")
	}
	fs := newFlagSet("schedule "+args[0], c.stderr)
	company := fs.String("company", "", "company name")
	asset := fs.String("asset", "", "asset identifier")
	address := fs.String("address", "", "schedule address")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	switch args[0] {
	case "create":
		var view rpc.ScheduleView
		if err := c.submit(rpc.RouteCreateSchedule, rpc.CreateScheduleRequest{CompanyName: *company, Asset: *asset}, &view); err != nil {
			return c.fail(err)
		}
		return c.emit(view)
	case "get":
		var view rpc.ScheduleView
		if err := c.query("/v1/schedules/"+url.PathEscape(*address), &view); err != nil {
			return c.fail(err)
		}
		return c.emit(view)
	case "list":
		var views []rpc.ScheduleView
		if err := c.query("/v1/schedules", &views); err != nil {
			return c.fail(err)
		}
		return c.emit(views)
	default:
		return printError(c.stderr, "unknown schedule subcommand "+args[0])
	}
}

// parseTime accepts unix seconds, RFC3339 or a +duration relative to now.
func parseTime(raw string, now time.Time) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("time is required")
	}
	if strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") && !isDigits(raw[1:]) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}
		return now.Add(d).Unix(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: use unix seconds, RFC3339 or +duration", raw)
	}
	return ts.Unix(), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *cli) runGrant(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "grant requires create, get, list or preview")
	}
	fs := newFlagSet("grant "+args[0], c.stderr)
	schedule := fs.String("schedule", "", "schedule address")
	beneficiary := fs.String("beneficiary", "", "beneficiary identity")
	startStr := fs.String("start", "", "vesting start")
	endStr := fs.String("end", "", "vesting end")
	cliffStr := fs.String("cliff", "", "claim deadline")
	amountStr := fs.String("amount", "", "total amount in base units")
	address := fs.String("address", "", "grant address")
	at := fs.String("at", "", "preview time")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	now := c.now()
	switch args[0] {
	case "create":
		req := rpc.CreateGrantRequest{Schedule: *schedule, Beneficiary: *beneficiary}
		var err error
		for _, field := range []struct {
			name string
			raw  string
			dst  *int64
		}{
			{"--start", *startStr, &req.StartTime},
			{"--end", *endStr, &req.EndTime},
			{"--cliff", *cliffStr, &req.CliffTime},
		} {
			if *field.dst, err = parseTime(field.raw, now); err != nil {
				return printError(c.stderr, field.name+": "+err.Error())
			}
		}
		if req.TotalAmount, err = parseAmount(*amountStr); err != nil {
			return c.fail(err)
		}
		var view rpc.GrantView
		if err := c.submit(rpc.RouteCreateGrant, req, &view); err != nil {
			return c.fail(err)
		}
		return c.emit(view)
	case "get":
		var view rpc.GrantView
		if err := c.query("/v1/grants/"+url.PathEscape(*address), &view); err != nil {
			return c.fail(err)
		}
		return c.emit(view)
	case "list":
		var views []rpc.GrantView
		if err := c.query("/v1/schedules/"+url.PathEscape(*schedule)+"/grants", &views); err != nil {
			return c.fail(err)
		}
		return c.emit(views)
	case "preview":
		path := "/v1/grants/" + url.PathEscape(*address) + "/preview"
		if strings.TrimSpace(*at) != "" {
			ts, err := parseTime(*at, now)
			if err != nil {
				return printError(c.stderr, "--at: "+err.Error())
			}
			path += "?at=" + strconv.FormatInt(ts, 10)
		}
		var view rpc.PreviewView
		if err := c.query(path, &view); err != nil {
			return c.fail(err)
		}
		return c.emit(view)
	default:
		return printError(c.stderr, "unknown grant subcommand "+args[0])
	}
}

func (c *cli) runClaim(args []string) int {
	fs := newFlagSet("claim", c.stderr)
	grant := fs.String("grant", "", "grant address")
	schedule := fs.String("schedule", "", "schedule address")
	treasury := fs.String("treasury", "", "schedule treasury account")
	asset := fs.String("asset", "", "asset identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var view rpc.ClaimView
	req := rpc.ClaimRequest{Grant: *grant, Schedule: *schedule, Treasury: *treasury, Asset: *asset}
	if err := c.submit(rpc.RouteClaim, req, &view); err != nil {
		return c.fail(err)
	}
	return c.emit(view)
}
