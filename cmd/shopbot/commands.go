package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kalambet/shopbot/internal/api"
	"github.com/kalambet/shopbot/internal/cart"
	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/composer"
	"github.com/kalambet/shopbot/internal/config"
	"github.com/kalambet/shopbot/internal/dialogue"
	"github.com/kalambet/shopbot/internal/retrieval"
	"github.com/kalambet/shopbot/internal/storage"
)

const defaultSession = "cli"

func printProducts(w io.Writer, products []catalog.Product) {
	for _, p := range products {
		line := fmt.Sprintf("  • %s (%s) %s", p.Name, p.Category, composer.Money(p.Price))
		if p.Rating != nil {
			line += fmt.Sprintf(" ★%.1f", *p.Rating)
		}
		if p.StockStatus != "" {
			line += " [" + p.StockStatus + "]"
		}
		fmt.Fprintln(w, line)
	}
}

// --- chat ---

func sendChat(ctx context.Context, client *apiClient, sessionID, message string) (api.ChatResponse, error) {
	resp, err := client.post(ctx, "/chat", api.ChatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return api.ChatResponse{}, err
	}
	var out api.ChatResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.ChatResponse{}, err
	}
	return out, nil
}

func printReply(w io.Writer, r dialogue.Reply) {
	fmt.Fprintln(w, colorize(color.FgCyan, "bot: ")+r.Text)
	printProducts(w, r.Products)
	if len(r.Recommendations) > 0 {
		printProducts(w, r.Recommendations)
	}
}

// chatLoop sends every non-blank line of in as a message until EOF or "exit".
func chatLoop(ctx context.Context, client *apiClient, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, composer.Greeting)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, colorize(color.Bold, "you: "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		resp, err := sendChat(ctx, client, sessionID, line)
		if err != nil {
			return err
		}
		printReply(out, resp.Reply)
	}
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the shop assistant (interactive without a message)",
	Long: `Chat with the shop assistant.

Examples:
  shopbot chat "show footwear under 1500"
  shopbot chat --session alice
  shopbot chat "track ORD001"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if len(args) == 0 {
			return chatLoop(ctx, client, sessionID, os.Stdin, cmd.OutOrStdout())
		}
		resp, err := sendChat(ctx, client, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printReply(cmd.OutOrStdout(), resp.Reply)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("session", defaultSession, "session ID")
}

// --- search ---

func searchProducts(ctx context.Context, client *apiClient, sessionID, query string) (retrieval.Result, error) {
	resp, err := client.post(ctx, "/search", api.TextRequest{SessionID: sessionID, Text: query})
	if err != nil {
		return retrieval.Result{}, err
	}
	var res retrieval.Result
	if err := decodeJSON(resp, &res); err != nil {
		return retrieval.Result{}, err
	}
	return res, nil
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		res, err := searchProducts(cmd.Context(), client, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(res.Products) == 0 {
			fmt.Fprintln(out, composer.NoResults)
			return nil
		}
		fmt.Fprintln(out, colorize(color.Bold, composer.SearchResults(len(res.Products))))
		printProducts(out, res.Products)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("session", defaultSession, "session ID")
}

// --- cart ---

func sessionPath(sessionID, suffix string) string {
	return "/sessions/" + url.PathEscape(sessionID) + suffix
}

func getCart(ctx context.Context, client *apiClient, sessionID string) (dialogue.CartView, error) {
	resp, err := client.get(ctx, sessionPath(sessionID, "/cart"))
	if err != nil {
		return dialogue.CartView{}, err
	}
	var view dialogue.CartView
	if err := decodeJSON(resp, &view); err != nil {
		return dialogue.CartView{}, err
	}
	return view, nil
}

func printCart(w io.Writer, view dialogue.CartView) {
	if len(view.Lines) == 0 {
		fmt.Fprintln(w, composer.CartEmpty)
		return
	}
	fmt.Fprintln(w, composer.Cart(view.Lines, view.Summary))
}

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Manage a session cart",
}

var cartShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cart with totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := getCart(cmd.Context(), client, sessionID)
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), view)
		return nil
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <product>",
	Short: "Add a product to the cart (fuzzy matched)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), sessionPath(sessionID, "/cart"), api.TextRequest{Text: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var res cart.Resolution
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("%s added to the cart", res.Product.Name)
		if len(res.Recommendations) > 0 {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, composer.RecommendHeader)
			printProducts(out, res.Recommendations)
		}
		return nil
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <product>",
	Short: "Remove a product from the cart",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		product := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), sessionPath(sessionID, "/cart/"+url.PathEscape(product)))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Removed %s", product)
		return nil
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), sessionPath(sessionID, "/cart"))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Cart cleared")
		return nil
	},
}

var cartCouponCmd = &cobra.Command{
	Use:   "coupon <code>",
	Short: "Apply a coupon to the cart (--remove to clear it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		remove, _ := cmd.Flags().GetBool("remove")
		if !remove && len(args) == 0 {
			return fmt.Errorf("a coupon code is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if remove {
			resp, err := client.delete(cmd.Context(), sessionPath(sessionID, "/coupon"))
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("Coupon removed")
			return nil
		}

		resp, err := client.post(cmd.Context(), sessionPath(sessionID, "/coupon"), api.CouponRequest{Code: args[0]})
		if err != nil {
			return err
		}
		var view dialogue.CartView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		printSuccess("Coupon %s applied", view.Summary.Coupon)
		printCart(cmd.OutOrStdout(), view)
		return nil
	},
}

var cartCheckoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place orders for everything in the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), sessionPath(sessionID, "/checkout"), nil)
		if err != nil {
			return err
		}
		var res dialogue.CheckoutResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), composer.CheckoutDone(res.OrderIDs, res.Items, res.Summary))
		return nil
	},
}

func init() {
	cartCmd.PersistentFlags().String("session", defaultSession, "session ID")
	cartCouponCmd.Flags().Bool("remove", false, "remove the applied coupon")
	cartCmd.AddCommand(cartShowCmd, cartAddCmd, cartRemoveCmd, cartClearCmd, cartCouponCmd, cartCheckoutCmd)
}

// --- track ---

func trackOrder(ctx context.Context, client *apiClient, id string) (dialogue.OrderView, error) {
	resp, err := client.get(ctx, "/orders/"+url.PathEscape(strings.TrimSpace(id)))
	if err != nil {
		return dialogue.OrderView{}, err
	}
	var view dialogue.OrderView
	if err := decodeJSON(resp, &view); err != nil {
		return dialogue.OrderView{}, err
	}
	return view, nil
}

var trackCmd = &cobra.Command{
	Use:   "track <order-id>",
	Short: "Show order status and expected delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := trackOrder(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, composer.OrderStatus(view.ID, view.ProductName, view.Status, view.ExpectedDelivery))
		if view.Payment != nil {
			fmt.Fprintln(out, composer.Paid(*view.Payment))
		}
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "Manage chat history",
}

func interactionsPath(sessionID string, limit int) string {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	return "/interactions?" + q.Encode()
}

var interactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), interactionsPath(sessionID, limit))
		if err != nil {
			return err
		}
		var rows []storage.Interaction
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintln(out, "No interactions found.")
			return nil
		}
		for _, ix := range rows {
			msg := ix.UserMessage
			if len(msg) > 80 {
				msg = msg[:80] + "..."
			}
			id := ix.ID
			if len(id) > 8 {
				id = id[:8]
			}
			fmt.Fprintf(out, "%s  %s  %-16s  %s\n", colorize(color.FgCyan, id), ix.CreatedAt.Local().Format("2006-01-02 15:04"), ix.Intent, msg)
		}
		return nil
	},
}

var interactionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var interaction any
		if err := decodeJSON(resp, &interaction); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(interaction)
	},
}

var interactionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/interactions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted interaction %s", args[0])
		return nil
	},
}

func init() {
	interactionsListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsListCmd.Flags().String("session", "", "only list this session")
	interactionsCmd.AddCommand(interactionsListCmd, interactionsShowCmd, interactionsDeleteCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect catalog source files",
}

// checkCatalog loads the configured sources and reports what was found.
func checkCatalog(ctx context.Context, cfg config.CatalogConfig, w io.Writer) error {
	printStep("Loading %s", cfg.ProductsPath)
	snap, err := catalog.Load(ctx, catalogSources(cfg))
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %d\n", colorize(color.Bold, "Products:"), snap.Index.Len())
	for _, c := range snap.Index.Categories() {
		fmt.Fprintf(w, "  %-20s %d\n", c, len(snap.Index.InCategory(c)))
	}
	fmt.Fprintf(w, "%s %d\n", colorize(color.Bold, "Synonym categories:"), snap.Synonyms.Len())
	fmt.Fprintf(w, "%s %d\n", colorize(color.Bold, "Imported orders:"), len(snap.Orders))

	for _, e := range snap.Synonyms.Entries() {
		if !snap.Index.HasCategory(e.Category) {
			printWarning("synonym category %q has no products", e.Category)
		}
	}
	return nil
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the configured catalog files and report counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := checkCatalog(cmd.Context(), cfg.Catalog, cmd.OutOrStdout()); err != nil {
			return err
		}
		printSuccess("Catalog OK")
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(color.Bold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
