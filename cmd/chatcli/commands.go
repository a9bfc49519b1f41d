package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"chatsync/internal/auth"
	"chatsync/internal/chat"
	"chatsync/internal/client"
	"chatsync/internal/logger"
	"chatsync/internal/models"
	"chatsync/internal/transport"
	"chatsync/internal/tui"
	"chatsync/internal/utils"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	username  string
	password  string
	logFile   string
)

// rootCmd opens a chat with the peer named by the first argument.
var rootCmd = &cobra.Command{
	Use:          "chatcli <peer-username>",
	Short:        "Terminal chat client",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         runChat,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		api := client.New(serverURL)
		u, err := api.Register(cmd.Context(), models.RegisterRequest{Username: username, Password: password, Name: name})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", u.Username, u.ID)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the people you can chat with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		api := client.New(serverURL)
		session, err := signIn(cmd.Context(), api)
		if err != nil {
			return err
		}
		users, err := api.ListUsers(cmd.Context(), session.Token())
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-24s %s\n", u.Username, u.Name, u.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", utils.GetEnv("CHATSYNC_SERVER", "http://localhost:3001"), "backend base URL")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", utils.GetEnv("CHATSYNC_USER", ""), "username")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", utils.GetEnv("CHATSYNC_PASSWORD", ""), "password")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of discarding them")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if username == "" || password == "" {
			return errors.New("--user and --password are required")
		}
		return setupLogging()
	}

	registerCmd.Flags().String("name", "", "display name")
	rootCmd.AddCommand(registerCmd, usersCmd)
}

// setupLogging keeps log lines off the terminal the UI draws on.
func setupLogging() error {
	var w io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w = f
	}
	logger.InitWriter(w, utils.GetEnv("LOG_LEVEL", "info"))
	return nil
}

func signIn(ctx context.Context, api *client.Client) (*auth.Session, error) {
	res, err := api.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	session := auth.NewSession()
	session.SignIn(res.Token, res.RefreshToken, res.UserID)
	return session, nil
}

func findPeer(ctx context.Context, api *client.Client, token, name string) (string, error) {
	users, err := api.ListUsers(ctx, token)
	if err != nil {
		return "", err
	}
	for _, u := range users {
		if u.Username == name || u.ID == name {
			return u.ID, nil
		}
	}
	return "", fmt.Errorf("no user named %q", name)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	api := client.New(serverURL)
	session, err := signIn(ctx, api)
	if err != nil {
		return err
	}
	peerID, err := findPeer(ctx, api, session.Token(), args[0])
	if err != nil {
		return err
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(serverURL, "/"), "http") + "/ws"
	tr := transport.New(transport.WebSocketDialer(wsURL, session))
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		if err := tr.Run(runCtx); err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, context.Canceled) {
			logger.Log.Error("realtime transport stopped", "error", err)
		}
	}()

	store := chat.NewStore(api, session, chat.WithOptimisticSend())
	session.OnSignOut(store.Reset)
	session.OnSignOut(tr.Close)
	defer session.SignOut()

	directory := func(ctx context.Context) ([]models.Conversation, error) {
		return api.ListConversations(ctx, session.Token())
	}
	if convs, err := directory(ctx); err != nil {
		logger.Log.Warn("conversation list not loaded", "error", err)
	} else {
		for _, c := range convs {
			store.PutConversation(c)
		}
	}

	inbox := chat.NewInbox(store, tr, session, chat.WithDirectory(directory))
	defer inbox.Close()

	thread, err := chat.OpenThread(ctx, store, tr, session, peerID, chat.WithAutoMarkRead())
	if err != nil {
		return err
	}
	defer thread.Close()

	changes, unsub := tui.Notify(store)
	defer unsub()

	if err := thread.Load(ctx); err != nil {
		logger.Log.Warn("history not loaded", "error", err)
	}

	_, err = tea.NewProgram(tui.New(thread, changes).WithConnection(tr.Connected), tea.WithAltScreen()).Run()
	return err
}
