// Command relaytester drives a running relay by hand: buffered chat, SSE streams,
// polling, conversation listing and mood analytics.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	timeout time.Duration

	conversationID string
	moodName       string
	rangeName      string
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	moodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "relaytester",
	Short: "手动测试心情聊天中继",
	Long: `relaytester 对运行中的中继服务发起请求，便于联调上游与各个传输通道。

Quick Start:
  relaytester chat "I feel stressed" --conversation c1 --mood anxious
  relaytester stream --conversation c1 --message "tell me more"
  relaytester poll "hello" --conversation p1
  relaytester conversations
  relaytester mood --range week`,
	SilenceUsage: true,
}

// defaultBaseURL 优先读取 RELAY_BASE_URL，否则按服务端的 PORT 拼接本地地址
func defaultBaseURL() string {
	if raw := strings.TrimSpace(os.Getenv("RELAY_BASE_URL")); raw != "" {
		return raw
	}
	port := strings.TrimPrefix(strings.TrimSpace(os.Getenv("PORT")), ":")
	if port == "" {
		port = "3000"
	}
	return "http://localhost:" + port
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func defaultConversationID() string {
	if conversationID != "" {
		return conversationID
	}
	return fmt.Sprintf("manual-%d", time.Now().UnixNano())
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "发送一次非流式聊天请求",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := defaultConversationID()
		reply, err := newClient().chat(cmd.Context(), id, args[0], moodName)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Reply")+" "+idStyle.Render(reply.ConversationID)+" "+moodStyle.Render(reply.Mood))
		fmt.Fprintln(out, replyStyle.Render(reply.Content))
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "通过 SSE 接收流式回复",
	RunE: func(cmd *cobra.Command, args []string) error {
		if conversationID == "" {
			return fmt.Errorf("--conversation is required")
		}
		message, _ := cmd.Flags().GetString("message")
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Stream")+" "+idStyle.Render(conversationID))

		full, err := newClient().stream(cmd.Context(), conversationID, message, moodName, func(delta string) {
			fmt.Fprint(out, replyStyle.Render(delta))
		})
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
			return err
		}
		fmt.Fprintln(out, countStyle.Render(fmt.Sprintf("%d bytes", len(full))))
		return nil
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll <message>",
	Short: "启动后台回复并轮询结果",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := defaultConversationID()
		interval, _ := cmd.Flags().GetDuration("interval")
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Poll")+" "+idStyle.Render(id))

		full, err := newClient().poll(cmd.Context(), id, args[0], moodName, interval, func(delta string) {
			fmt.Fprint(out, replyStyle.Render(delta))
		})
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
			return err
		}
		fmt.Fprintln(out, countStyle.Render(fmt.Sprintf("%d bytes", len(full))))
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "列出所有会话",
	RunE: func(cmd *cobra.Command, args []string) error {
		conversations, err := newClient().conversations(cmd.Context())
		if err != nil {
			return err
		}
		renderConversations(cmd.OutOrStdout(), conversations)
		return nil
	},
}

var moodCmd = &cobra.Command{
	Use:   "mood",
	Short: "查看心情统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().moodAnalysis(cmd.Context(), conversationID, rangeName)
		if err != nil {
			return err
		}
		renderMoodStats(cmd.OutOrStdout(), result)
		return nil
	},
}

func init() {
	// .env is optional for the tester.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", defaultBaseURL(), "中继服务地址")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "请求超时时间")

	for _, cmd := range []*cobra.Command{chatCmd, streamCmd, pollCmd} {
		cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "会话 ID，留空则自动生成")
		cmd.Flags().StringVarP(&moodName, "mood", "m", "", "心情，例如 happy、anxious")
	}
	streamCmd.Flags().String("message", "", "新消息，留空则基于已有历史生成")
	pollCmd.Flags().Duration("interval", 300*time.Millisecond, "轮询间隔")

	moodCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "只统计指定会话")
	moodCmd.Flags().StringVar(&rangeName, "range", "all", "时间范围: week, month, year, all")

	rootCmd.AddCommand(chatCmd, streamCmd, pollCmd, conversationsCmd, moodCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
