package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pricelens/pricelens/internal/chart"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/store"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Inspect observed products",
	Long:  "Commands for listing products and viewing their recorded price history.",
}

// -- products list --

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observed products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		site, _ := cmd.Flags().GetString("site")
		search, _ := cmd.Flags().GetString("search")
		limit, _ := cmd.Flags().GetInt("limit")

		products, err := st.ListProducts(ctx, store.ProductFilter{Site: site, Search: search, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "products list")
		}

		if len(products) == 0 {
			fmt.Fprintln(os.Stderr, "No products found.")
			return nil
		}

		formatProductList(os.Stdout, products)
		return nil
	},
}

// -- products history --

var productsHistoryCmd = &cobra.Command{
	Use:   "history <product-id>",
	Short: "Show a product's price history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid product id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		rangeName, _ := cmd.Flags().GetString("range")
		limit, _ := cmd.Flags().GetInt("limit")

		since, err := chart.RangeCutoff(rangeName, time.Now())
		if err != nil {
			return err
		}

		product, err := st.GetProduct(ctx, id)
		if err != nil {
			return eris.Wrap(err, "products history")
		}
		obs, err := st.ListObservations(ctx, id, since, limit)
		if err != nil {
			return eris.Wrap(err, "products history")
		}

		fmt.Printf("%s (%s)\n%s\n\n", product.Title, product.Site, product.URL)
		if len(obs) == 0 {
			fmt.Fprintln(os.Stderr, "No observations in range.")
			return nil
		}

		formatHistory(os.Stdout, obs)
		return nil
	},
}

func init() {
	productsListCmd.Flags().String("site", "", "filter by site name")
	productsListCmd.Flags().String("search", "", "substring match on title or URL")
	productsListCmd.Flags().Int("limit", 50, "max number of products to display")

	productsHistoryCmd.Flags().String("range", "30d", "time range (24h, 7d, 30d, 90d, 1y, all)")
	productsHistoryCmd.Flags().Int("limit", 500, "max number of observations to display")

	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(productsHistoryCmd)
	rootCmd.AddCommand(productsCmd)
}

// formatProductList writes a tabular list of products to w.
func formatProductList(out io.Writer, products []model.Product) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSITE\tPRICE\tLAST_SEEN\tTITLE")
	for _, p := range products {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.2f %s\t%s\t%s\n",
			p.ID, p.Site, p.Price, p.Currency,
			p.LastSeenAt.Local().Format(time.DateTime), truncate(p.Title, 50))
	}
	_ = w.Flush()
}

// formatHistory writes the observation series, oldest first.
func formatHistory(out io.Writer, obs []model.Observation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CAPTURED\tPRICE")
	for _, o := range obs {
		_, _ = fmt.Fprintf(w, "%s\t%.2f %s\n",
			o.CapturedAt.Local().Format(time.DateTime), o.Price, o.Currency)
	}
	_ = w.Flush()
}
