package main

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"fyne.io/systray"

	"github.com/dotside-studios/davi-nfc-session/buildinfo"
	"github.com/dotside-studios/davi-nfc-session/logging"
	"github.com/dotside-studios/davi-nfc-session/nfc"
	"github.com/dotside-studios/davi-nfc-session/nfc/phonenfc"
	"github.com/dotside-studios/davi-nfc-session/protocol"
)

const trayRefreshInterval = time.Second

// SystrayApp manages the system tray interface for the agent.
type SystrayApp struct {
	agent  *Agent
	logger *slog.Logger

	mu          sync.Mutex
	unsubscribe func()

	mStatus  *systray.MenuItem
	mNFC     *systray.MenuItem
	mPhone   *systray.MenuItem
	mLastTag *systray.MenuItem
	mClients *systray.MenuItem

	mURL          *systray.MenuItem
	mCopyURL      *systray.MenuItem
	mCAURL        *systray.MenuItem
	mCopyCAURL    *systray.MenuItem
	mTextFilter   *systray.MenuItem
	mUnshare      *systray.MenuItem
	mLaunchScan   *systray.MenuItem
	mStart        *systray.MenuItem
	mStop         *systray.MenuItem
	mQuit         *systray.MenuItem
	stopRefreshCh chan struct{}
}

// NewSystrayApp creates a tray UI driving agent.
func NewSystrayApp(agent *Agent, logger *slog.Logger) *SystrayApp {
	return &SystrayApp{
		agent:  agent,
		logger: logging.Component(logger, "systray"),
	}
}

// Run blocks until the user quits.
func (s *SystrayApp) Run() {
	systray.Run(s.onReady, s.onExit)
}

func (s *SystrayApp) onReady() {
	s.setupUI()
	go s.handleMenuEvents()
	go s.start()
}

func (s *SystrayApp) onExit() {
	s.stop()
}

func (s *SystrayApp) setupUI() {
	systray.SetIcon(iconIdle)
	systray.SetTitle("NFC")
	systray.SetTooltip(buildinfo.DisplayName)

	s.mStatus = systray.AddMenuItem("Starting...", "Agent status")
	s.mStatus.Disable()
	s.mNFC = systray.AddMenuItem(availabilityTitle(nfc.SessionStatus{}), "NFC and push availability")
	s.mNFC.Disable()
	s.mPhone = systray.AddMenuItem("Phone: none", "Connected phone")
	s.mPhone.Disable()
	s.mClients = systray.AddMenuItem(clientsTitle(protocol.StatusPayload{}), "Connected clients")
	s.mClients.Disable()

	systray.AddSeparator()

	s.mLastTag = systray.AddMenuItem(lastTagTitle(nfc.TagEvent{}, false), "Last discovered tag")
	s.mLastTag.Disable()

	systray.AddSeparator()

	s.mURL = systray.AddMenuItem("Server: not running", "WebSocket URL")
	s.mURL.Disable()
	s.mCopyURL = systray.AddMenuItem("  Copy server URL", "Copy the WebSocket URL to the clipboard")
	s.mCAURL = systray.AddMenuItem("CA: disabled", "CA certificate download URL")
	s.mCAURL.Disable()
	s.mCopyCAURL = systray.AddMenuItem("  Copy CA URL", "Copy the CA certificate URL to the clipboard")
	s.mCopyCAURL.Disable()

	systray.AddSeparator()

	s.mTextFilter = systray.AddMenuItemCheckbox("Text filter", textFilterTooltip(s.agent.cfg.Session.DeliveryFiltering), false)
	s.mUnshare = systray.AddMenuItem("Unshare tag", "Stop sharing the outgoing tag")
	s.mLaunchScan = systray.AddMenuItem("Launch scanning", "Open the scanner on the phone")

	systray.AddSeparator()

	s.mStart = systray.AddMenuItem("Start Agent", "Start the agent")
	s.mStop = systray.AddMenuItem("Stop Agent", "Stop the agent")
	s.mStart.Disable()
	s.mStop.Disable()

	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the application")
}

// start starts the agent, subscribes the tray to events and begins
// refreshing the menu.
func (s *SystrayApp) start() {
	if err := s.agent.Start(); err != nil {
		s.logger.Error("agent failed to start", "error", err)
		s.updateStatus("Failed to Start", iconError)
		s.mStart.Enable()
		s.mStop.Disable()
		return
	}

	srv, err := s.agent.Server()
	if err != nil {
		return
	}
	srv.OnEvent(func(e nfc.TagEvent) {
		s.mLastTag.SetTitle(lastTagTitle(e, true))
	})
	unsubscribe, err := srv.SubscribeLocal()
	if err != nil {
		s.logger.Warn("tray cannot receive tags", "error", err)
	}

	stopCh := make(chan struct{})
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.stopRefreshCh = stopCh
	s.mu.Unlock()

	s.mURL.SetTitle("Server: " + s.agent.WebSocketURL())
	if url := s.agent.BootstrapURL(); url != "" {
		s.mCAURL.SetTitle("CA: " + url)
		s.mCopyCAURL.Enable()
	}
	s.mStart.Disable()
	s.mStop.Enable()
	s.refresh()
	go s.refreshLoop(stopCh)
}

func (s *SystrayApp) stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	stopCh := s.stopRefreshCh
	s.unsubscribe = nil
	s.stopRefreshCh = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	s.agent.Stop()
}

func (s *SystrayApp) refreshLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(trayRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.refresh()
		}
	}
}

// refresh pulls the session and server state into the menu.
func (s *SystrayApp) refresh() {
	srv, err := s.agent.Server()
	if err != nil {
		return
	}
	status := srv.Status()
	session := nfc.SessionStatus{
		Available:     status.Available,
		PushAvailable: status.PushAvailable,
	}

	s.mNFC.SetTitle(availabilityTitle(session))
	s.mClients.SetTitle(clientsTitle(status))

	phone, ok := s.agent.Phone()
	s.mPhone.SetTitle(phoneTitle(phone, ok))

	if hasTextFilter(status.Filters) {
		s.mTextFilter.Check()
	} else {
		s.mTextFilter.Uncheck()
	}
	if status.Shared {
		s.mUnshare.Enable()
	} else {
		s.mUnshare.Disable()
	}

	switch {
	case status.Available:
		s.updateStatus("Running", iconRunning)
	default:
		s.updateStatus("Running (NFC unavailable)", iconWarning)
	}
}

func (s *SystrayApp) handleMenuEvents() {
	for {
		select {
		case <-s.mStart.ClickedCh:
			s.mStart.Disable()
			go s.start()
		case <-s.mStop.ClickedCh:
			s.stop()
			s.updateStatus("Stopped", iconIdle)
			s.mURL.SetTitle("Server: not running")
			s.mCAURL.SetTitle("CA: disabled")
			s.mCopyCAURL.Disable()
			s.mStop.Disable()
			s.mStart.Enable()
		case <-s.mCopyURL.ClickedCh:
			s.copy(s.agent.WebSocketURL())
		case <-s.mCopyCAURL.ClickedCh:
			s.copy(s.agent.BootstrapURL())
		case <-s.mTextFilter.ClickedCh:
			s.toggleTextFilter()
		case <-s.mUnshare.ClickedCh:
			s.withSession("unshare tag", func(session *nfc.Session) error {
				return session.UnshareTag()
			})
		case <-s.mLaunchScan.ClickedCh:
			s.withSession("launch scanning", func(session *nfc.Session) error {
				return session.LaunchScanningActivity(true)
			})
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *SystrayApp) toggleTextFilter() {
	enable := !s.mTextFilter.Checked()
	s.withSession("text filter", func(session *nfc.Session) error {
		if enable {
			return session.AddTextTypeFilter()
		}
		return session.RemoveTextTypeFilter()
	})
}

// withSession runs fn against the running session, logs failures and
// refreshes the menu.
func (s *SystrayApp) withSession(action string, fn func(*nfc.Session) error) {
	session, err := s.agent.Session()
	if err != nil {
		s.logger.Warn(action+" ignored", "error", err)
		return
	}
	if err := fn(session); err != nil {
		s.logger.Warn(action+" failed", "error", err)
	}
	s.refresh()
}

func (s *SystrayApp) copy(text string) {
	if text == "" {
		return
	}
	if err := copyToClipboard(text); err != nil {
		s.logger.Warn("failed to copy to clipboard", "error", err)
		return
	}
	s.logger.Info("copied to clipboard", "text", text)
}

func (s *SystrayApp) updateStatus(status string, icon []byte) {
	s.mStatus.SetTitle(status)
	systray.SetIcon(icon)
	systray.SetTooltip(buildinfo.DisplayName + ": " + status)
}

func availabilityTitle(st nfc.SessionStatus) string {
	nfcState := "unavailable"
	if st.Available {
		nfcState = "available"
	}
	pushState := "off"
	if st.PushAvailable {
		pushState = "on"
	}
	return fmt.Sprintf("NFC: %s, push: %s", nfcState, pushState)
}

func clientsTitle(st protocol.StatusPayload) string {
	return fmt.Sprintf("Clients: %d (%d subscribed)", st.Clients, st.Subscribers)
}

func phoneTitle(info phonenfc.PhoneInfo, connected bool) string {
	if !connected {
		return "Phone: none"
	}
	if info.Platform != "" {
		return fmt.Sprintf("Phone: %s (%s)", info.DeviceName, info.Platform)
	}
	return "Phone: " + info.DeviceName
}

func lastTagTitle(e nfc.TagEvent, ok bool) string {
	if !ok {
		return "Last tag: none"
	}
	tech := "no NDEF"
	if e.Technology != nil {
		tech = shortTech(e.Technology.Name())
	}
	return fmt.Sprintf("Last tag: %s (%s)", protocol.FormatUID(e.TagID), tech)
}

// textFilterTooltip describes what the text filter changes. Filters only
// drop events locally when delivery filtering is configured.
func textFilterTooltip(deliveryFiltering bool) string {
	if deliveryFiltering {
		return "Only deliver tags carrying text records"
	}
	return "Ask the platform to dispatch tags carrying text records"
}

func hasTextFilter(filters []protocol.FilterPayload) bool {
	for _, f := range filters {
		if f.Kind == string(nfc.FilterText) {
			return true
		}
	}
	return false
}

// copyToClipboard copies text to the system clipboard
func copyToClipboard(text string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		cmd = exec.Command("xclip", "-selection", "clipboard")
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte(text)); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}
