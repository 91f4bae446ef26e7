package cmd

import (
	"context"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lumebot/lumebot/pkg/cmd/cmdutil"
	"github.com/lumebot/lumebot/pkg/config"
	"github.com/lumebot/lumebot/pkg/fixedpoint"
	"github.com/lumebot/lumebot/pkg/ledger"
	"github.com/lumebot/lumebot/pkg/lifecycle"
	"github.com/lumebot/lumebot/pkg/pathfinder"
	"github.com/lumebot/lumebot/pkg/persistence"
	"github.com/lumebot/lumebot/pkg/reserve"
	"github.com/lumebot/lumebot/pkg/sequence"
	"github.com/lumebot/lumebot/pkg/server"
	"github.com/lumebot/lumebot/pkg/signing"
	"github.com/lumebot/lumebot/pkg/submitter"
	"github.com/lumebot/lumebot/pkg/types"
)

func init() {
	RunCmd.Flags().Bool("no-server", false, "do not start the operational api server")
	RootCmd.AddCommand(RunCmd)
}

var RunCmd = &cobra.Command{
	Use:          "run",
	Short:        "run the trading client",
	SilenceUsage: true,
	RunE:         run,
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(".env.local"); err != nil {
		log.WithError(err).Debug("no .env.local file loaded")
	}

	configFile := viper.GetString("config")
	userConfig, err := config.Load(configFile)
	if err != nil {
		return err
	}

	noServer, err := cmd.Flags().GetBool("no-server")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, backend, keyHandle, err := buildEnvironment(userConfig)
	if err != nil {
		return err
	}

	allocator := sequence.NewAllocator(client, sequence.Options{
		EnablePipelining: userConfig.Sequence.EnablePipelining,
	})

	calc := reserve.NewCalculator()
	if userConfig.Reserve != nil {
		calc.BaseAccountReserve = userConfig.Reserve.BaseAccountReserve
		calc.EntryReserve = userConfig.Reserve.EntryReserve
	}

	sub := submitter.New(client, allocator, backend, keyHandle, userConfig.Submitter)
	manager := lifecycle.NewManager(userConfig.Lifecycle, client, sub, allocator, calc)

	if store := buildStore(userConfig); store != nil {
		manager.SetStore(store)
		if err := manager.RestoreState(); err != nil {
			return errors.Wrap(err, "can not restore order state")
		}
	}

	var planner *pathfinder.Planner
	if userConfig.Pathfinder != nil {
		// liquidity edges come from the account's own open offers; a
		// cross-account book feed plugs in through the same interface
		planner = pathfinder.NewPlanner(
			offerEdgeSource{client: client, accountID: userConfig.Account.AccountID},
			sub,
			userConfig.Account.AccountID,
		)
	}

	manager.OnFilled(func(order types.Order) {
		log.WithFields(log.Fields{
			"order":    order.ClientOrderID,
			"executed": order.ExecutedQuantity.String(),
		}).Info("order filled")
	})

	go func() {
		if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("lifecycle loop exited")
		}
	}()

	if userConfig.Server != nil && !noServer {
		srv := server.New(manager, calc, planner, userConfig.Server.Bind)
		go func() {
			if err := srv.Run(); err != nil {
				log.WithError(err).Error("api server exited")
			}
		}()
	}

	cmdutil.WaitForSignal(ctx, syscall.SIGINT, syscall.SIGTERM)
	cancel()

	if err := manager.SnapshotState(); err != nil {
		log.WithError(err).Error("can not checkpoint order state")
	}

	return nil
}

// buildEnvironment resolves the ledger client and signing backend from the
// config. Only the built-in simulator transport ships with this module;
// real network transports implement ledger.NetworkClient out of tree.
func buildEnvironment(userConfig *config.Config) (ledger.NetworkClient, signing.Backend, signing.KeyHandle, error) {
	if userConfig.Network.Endpoint != "simulator" {
		return nil, nil, "", errors.Errorf(
			"no transport registered for endpoint %q", userConfig.Network.Endpoint)
	}

	backend := signing.NewLocalBackend()
	keyHandle, err := backend.GenerateKey()
	if err != nil {
		return nil, nil, "", errors.Wrap(err, "can not generate signing key")
	}

	sim := ledger.NewSimulator()
	sim.AddAccount(types.AccountSnapshot{
		AccountID:     userConfig.Account.AccountID,
		Sequence:      1,
		NativeBalance: fixedpoint.NewFromInt(10000),
		Trustlines: []types.Trustline{
			{Asset: types.Asset{Code: "USD", Issuer: "GSIMISSUER"}, Authorized: true},
		},
		Signers: []types.Signer{{Key: userConfig.Account.AccountID, Weight: 1}},
	})

	log.Infof("running against the built-in simulator as %s", userConfig.Account.AccountID)
	return sim, backend, keyHandle, nil
}

func buildStore(userConfig *config.Config) persistence.Store {
	if userConfig.Persistence == nil {
		return nil
	}

	switch {
	case userConfig.Persistence.Redis != nil:
		service := persistence.NewRedisPersistenceService(userConfig.Persistence.Redis)
		return service.NewStore("lumebot", "orders", userConfig.Account.AccountID)

	case userConfig.Persistence.Json != nil:
		service := &persistence.JsonPersistenceService{
			Directory: userConfig.Persistence.Json.Directory,
		}
		return service.NewStore("orders", userConfig.Account.AccountID)

	default:
		return nil
	}
}

// offerEdgeSource derives liquidity edges from the resting offers the
// network reports for one account.
type offerEdgeSource struct {
	client    ledger.NetworkClient
	accountID string
}

func (s offerEdgeSource) Edges(ctx context.Context, from types.Asset) ([]pathfinder.Edge, error) {
	offers, err := s.client.OpenOffers(ctx, s.accountID)
	if err != nil {
		return nil, err
	}

	var edges []pathfinder.Edge
	for _, offer := range offers {
		// an offer selling X for Y lets a router convert Y into X
		if offer.Buying != from {
			continue
		}
		edges = append(edges, pathfinder.Edge{
			To:    offer.Selling,
			Price: offer.Price,
			Depth: offer.Amount,
		})
	}
	return edges, nil
}
