package cmd

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/bascanada/epidata/pkg/epidata/bridge"
	"github.com/bascanada/epidata/pkg/epidata/memory"
	"github.com/bascanada/epidata/pkg/log"
)

var (
	engineData      string
	engineKeyFields []string
	engineListen    string
)

// engineCmd serves the in-memory engine, over stdio for the process and
// ssh transports or over HTTP for the remote one.
var engineCmd = &cobra.Command{
	Use:    "engine",
	Short:  "Serve the in-memory engine over the bridge protocol",
	Hidden: true,
	Args:   cobra.NoArgs,
	PreRun: onCommandStart,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyFields := engineKeyFields
		if len(keyFields) == 0 {
			keyFields = bridge.DefaultKeyFields
		}

		engine := memory.New(keyFields)
		if engineData != "" {
			loaded, err := memory.Load(engineData, keyFields)
			if err != nil {
				return err
			}
			engine = loaded
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if engineListen == "" {
			log.Info("serving memory engine on stdio")
			err := bridge.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), engine.Ready(), engine)
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		srv := &http.Server{
			Addr:              engineListen,
			Handler:           bridge.HTTPHandler(engine.Ready(), engine),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		log.Info("serving memory engine on %s", engineListen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	engineCmd.Flags().StringVar(&engineData, "data", "", "JSON dataset to serve")
	engineCmd.Flags().StringSliceVar(&engineKeyFields, "key-fields", nil, "key columns of listKeys")
	engineCmd.Flags().StringVar(&engineListen, "listen", "", "serve HTTP on this address instead of stdio")
}
