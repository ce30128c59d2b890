// Command devtoken mints access tokens for local testing.  Identity is
// normally issued by an external provider; this tool signs tokens with
// the same JWT_SECRET the server verifies.
//
//	devtoken -user u-1 -role VIEWER -name Ana
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/iliyamo/liveroom-admission/internal/config"
	"github.com/iliyamo/liveroom-admission/internal/logging"
	"github.com/iliyamo/liveroom-admission/internal/utils"
)

func main() {
	user := flag.String("user", "", "user id (token subject)")
	role := flag.String("role", utils.RoleViewer, "VIEWER or OPERATOR")
	name := flag.String("name", "", "display name")
	phone := flag.String("phone", "", "phone number")
	email := flag.String("email", "", "email address")
	ttl := flag.Int("ttl", 0, "lifetime in minutes (default ACCESS_TOKEN_TTL_MIN)")
	flag.Parse()

	log := logging.New(logging.Config{Level: "warn"})
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal().Err(err).Msg("load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *ttl <= 0 {
		*ttl = cfg.AccessTTLMin
	}
	if *role != utils.RoleViewer && *role != utils.RoleOperator {
		log.Fatal().Str("role", *role).Msg("unknown role")
	}

	tok, err := utils.NewAccessToken(cfg.JWTSecret, *user, *role, utils.Claims{Name: *name, Phone: *phone, Email: *email}, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Fprintln(os.Stdout, tok.Token)
}
