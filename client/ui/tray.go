package main

import (
	"context"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/systray"
	log "github.com/sirupsen/logrus"

	"github.com/netbirdio/updater/client/api"
	"github.com/netbirdio/updater/client/internal/updatemanager/channel"
	"github.com/netbirdio/updater/client/internal/updatemanager/events"
	"github.com/netbirdio/updater/client/ui/event"
)

const (
	requestTimeout = 5 * time.Second
	// downloads wait for the whole transfer
	downloadTimeout = time.Hour
	// connectivityInterval is how often the tray polls the daemon while the stream is down
	connectivityInterval = 3 * time.Second
)

type serviceClient struct {
	ctx    context.Context
	client *api.Client
	events *event.Manager

	mStatus   *systray.MenuItem
	mCheck    *systray.MenuItem
	mDownload *systray.MenuItem
	mInstall  *systray.MenuItem
	mChannel  *systray.MenuItem
	mQuit     *systray.MenuItem

	mu           sync.Mutex
	connected    bool
	channelItems map[channel.ID]*systray.MenuItem
}

func newServiceClient(ctx context.Context, a fyne.App, addr string) (*serviceClient, error) {
	client, err := api.NewClient(addr)
	if err != nil {
		return nil, err
	}

	s := &serviceClient{
		ctx:          ctx,
		client:       client,
		channelItems: make(map[channel.ID]*systray.MenuItem),
	}
	s.events = event.NewManager(event.ClientSubscriber(client), event.AppNotifier{App: a})
	return s, nil
}

func (s *serviceClient) onTrayReady() {
	systray.SetIcon(iconIdle)
	systray.SetTooltip("Updater")

	s.mStatus = systray.AddMenuItem("Connecting...", "Update status")
	s.mStatus.Disable()
	systray.AddSeparator()

	s.mCheck = systray.AddMenuItem("Check for updates", "Look for a new release")
	s.mDownload = systray.AddMenuItem("Download update", "Download the available update")
	s.mDownload.Hide()
	s.mInstall = systray.AddMenuItem("Restart to update", "Install the downloaded update and restart")
	s.mInstall.Hide()

	s.mChannel = systray.AddMenuItem("Update channel", "Release channel to check")
	systray.AddSeparator()
	s.mQuit = systray.AddMenuItem("Quit", "Quit the updater tray")

	s.events.AddHandler(s.onEvent)
	go s.events.Start(s.ctx)
	go s.watchConnectivity()

	s.render()
	go s.listen()
}

func (s *serviceClient) onTrayExit() {
	s.events.Stop()
}

func (s *serviceClient) listen() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.mCheck.ClickedCh:
			s.mCheck.Disable()
			go s.checkForUpdates()
		case <-s.mDownload.ClickedCh:
			s.mDownload.Disable()
			go s.downloadUpdate()
		case <-s.mInstall.ClickedCh:
			s.mInstall.Disable()
			go s.installUpdate()
		case <-s.mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (s *serviceClient) onEvent(e api.Event) {
	s.setConnected(true)
	switch e.Type {
	case events.StateChanged, events.SelectedChannelChange:
		s.render()
	}
}

// watchConnectivity marks the daemon unreachable while the state cannot be read
func (s *serviceClient) watchConnectivity() {
	ticker := time.NewTicker(connectivityInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
			_, err := s.client.State(ctx)
			cancel()
			if s.setConnected(err == nil) {
				s.render()
			}
		}
	}
}

func (s *serviceClient) setConnected(connected bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.connected != connected
	s.connected = connected
	return changed
}

func (s *serviceClient) render() {
	st, ok := s.events.Mirror().State()

	s.mu.Lock()
	connected := s.connected && ok
	s.mu.Unlock()

	m := buildMenu(st, connected)

	s.mStatus.SetTitle(m.status)
	s.mCheck.SetTitle(m.checkTitle)
	setEnabled(s.mCheck, m.checkEnabled)

	s.mDownload.SetTitle(m.downloadTitle)
	setVisible(s.mDownload, m.downloadVisible)
	setEnabled(s.mDownload, m.downloadEnabled)

	s.mInstall.SetTitle(m.installTitle)
	setVisible(s.mInstall, m.installVisible)
	setEnabled(s.mInstall, m.installEnabled)

	if m.updateIcon {
		systray.SetIcon(iconUpdate)
	} else {
		systray.SetIcon(iconIdle)
	}

	setEnabled(s.mChannel, m.channelsEnabled)
	if connected {
		s.renderChannels(st.SelectedChannel)
	}
}

// renderChannels adds the channel items once and checks the selected one
func (s *serviceClient) renderChannels(selected channel.ID) {
	s.mu.Lock()
	empty := len(s.channelItems) == 0
	s.mu.Unlock()

	if empty {
		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		resp, err := s.client.Channels(ctx)
		cancel()
		if err != nil {
			log.Errorf("get update channels: %v", err)
			return
		}

		s.mu.Lock()
		for _, info := range resp.Channels {
			if _, ok := s.channelItems[info.ID]; ok {
				continue
			}
			item := s.mChannel.AddSubMenuItemCheckbox(info.Label, "Check the "+info.Label+" channel", info.Selected)
			s.channelItems[info.ID] = item
			go s.listenChannel(info.ID, item)
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.channelItems {
		if id == selected {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func (s *serviceClient) listenChannel(id channel.ID, item *systray.MenuItem) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-item.ClickedCh:
			ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
			if _, err := s.client.SetChannel(ctx, string(id)); err != nil {
				log.Errorf("set update channel %s: %v", id, err)
			}
			cancel()
			s.render()
		}
	}
}

func (s *serviceClient) checkForUpdates() {
	ctx, cancel := context.WithTimeout(s.ctx, downloadTimeout)
	defer cancel()

	res, err := s.client.Check(ctx, events.SourceTray)
	if err != nil {
		log.Errorf("check for updates: %v", err)
	} else if !res.UpdateWasDiscovered {
		log.Infof("no updates available, checked %v", res.Attempts)
	}
	s.render()
}

func (s *serviceClient) downloadUpdate() {
	ctx, cancel := context.WithTimeout(s.ctx, downloadTimeout)
	defer cancel()

	res, err := s.client.Download(ctx)
	if err != nil {
		log.Errorf("download update: %v", err)
	} else if !res.DownloadWasSuccessful {
		log.Warnf("download of %s was not successful", res.Version)
	}
	s.render()
}

func (s *serviceClient) installUpdate() {
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	if err := s.client.Install(ctx); err != nil {
		log.Errorf("install update: %v", err)
	}
	s.render()
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

func setVisible(item *systray.MenuItem, visible bool) {
	if visible {
		item.Show()
	} else {
		item.Hide()
	}
}
