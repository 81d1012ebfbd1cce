package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	netsdk "github.com/LdDl/go-netsdk"
	"github.com/LdDl/go-netsdk/convert"
	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const timeLayout = "2006-01-02 15:04:05"

type deviceArgs struct {
	ip       *string
	port     *int
	rtspPort *int
	username *string
	password *string
}

func addDeviceArgs(cmd *argparse.Command) deviceArgs {
	return deviceArgs{
		ip:       cmd.String("i", "ip", &argparse.Options{Help: "Device IP", Required: true}),
		port:     cmd.Int("p", "port", &argparse.Options{Help: "Device HTTP port", Default: 80}),
		rtspPort: cmd.Int("r", "rtsp-port", &argparse.Options{Help: "Device RTSP port", Default: 554}),
		username: cmd.String("u", "username", &argparse.Options{Help: "User name", Default: "admin"}),
		password: cmd.String("w", "password", &argparse.Options{Help: "Password", Default: "admin"}),
	}
}

func (da deviceArgs) params() netsdk.LoginParams {
	return netsdk.LoginParams{
		IP:       *da.ip,
		Port:     *da.port,
		RTSPPort: *da.rtspPort,
		Username: *da.username,
		Password: *da.password,
		SpecCap:  netsdk.LoginSpecCapTCP,
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	parser := argparse.NewParser("netsdk_samples", "Console samples of the NetSDK client")

	initCmd := parser.NewCommand("init", "Initialize client, set network parameters and login (retrying until success)")
	initDev := addDeviceArgs(initCmd)

	loginCmd := parser.NewCommand("login", "Login once and print device information")
	loginDev := addDeviceArgs(loginCmd)
	loginOnvif := loginCmd.Flag("", "onvif", &argparse.Options{Help: "Ask ONVIF service for device information"})

	realPlayCmd := parser.NewCommand("realplay", "Start real play and print amount of received data")
	realPlayDev := addDeviceArgs(realPlayCmd)
	realPlayChannel := realPlayCmd.Int("c", "channel", &argparse.Options{Help: "Zero based channel", Default: 0})
	realPlayType := realPlayCmd.Selector("t", "type", []string{"main", "extra1", "extra2"}, &argparse.Options{Help: "Stream type", Default: "main"})

	recordCmd := parser.NewCommand("record", "Record real play into file, convert it to MP4 and rename both files to the start time")
	recordDev := addDeviceArgs(recordCmd)
	recordChannel := recordCmd.Int("c", "channel", &argparse.Options{Help: "Zero based channel", Default: 0})
	recordDir := recordCmd.String("d", "directory", &argparse.Options{Help: "Directory for records", Default: "."})
	recordFFmpeg := recordCmd.String("f", "ffmpeg", &argparse.Options{Help: "Path to ffmpeg", Default: convert.DefaultFFmpegPath})

	downloadFileCmd := parser.NewCommand("download-file", "Find records in time range and download one of them")
	downloadFileDev := addDeviceArgs(downloadFileCmd)
	downloadFileChannel := downloadFileCmd.Int("c", "channel", &argparse.Options{Help: "Zero based channel", Default: 0})
	downloadFileStart := downloadFileCmd.String("s", "start", &argparse.Options{Help: "Start time '" + timeLayout + "'", Required: true})
	downloadFileStop := downloadFileCmd.String("e", "stop", &argparse.Options{Help: "Stop time '" + timeLayout + "'", Required: true})
	downloadFileIndex := downloadFileCmd.Int("n", "index", &argparse.Options{Help: "Index of found file to download", Default: 0})
	downloadFileSaved := downloadFileCmd.String("o", "output", &argparse.Options{Help: "Saved file", Default: "test.dav"})

	downloadTimeCmd := parser.NewCommand("download-time", "Download everything recorded in time range")
	downloadTimeDev := addDeviceArgs(downloadTimeCmd)
	downloadTimeChannel := downloadTimeCmd.Int("c", "channel", &argparse.Options{Help: "Zero based channel", Default: 0})
	downloadTimeStart := downloadTimeCmd.String("s", "start", &argparse.Options{Help: "Start time '" + timeLayout + "'", Required: true})
	downloadTimeStop := downloadTimeCmd.String("e", "stop", &argparse.Options{Help: "Stop time '" + timeLayout + "'", Required: true})
	downloadTimeSaved := downloadTimeCmd.String("o", "output", &argparse.Options{Help: "Saved file", Default: "test.dav"})

	convertCmd := parser.NewCommand("convert", "Transcode file into MP4 with ffmpeg")
	convertSrc := convertCmd.String("s", "source", &argparse.Options{Help: "Source file", Required: true})
	convertDst := convertCmd.String("o", "output", &argparse.Options{Help: "Destination file", Required: true})
	convertFFmpeg := convertCmd.String("f", "ffmpeg", &argparse.Options{Help: "Path to ffmpeg", Default: convert.DefaultFFmpegPath})
	convertFormat := convertCmd.String("", "format", &argparse.Options{Help: "Forced input format (e.g. 'h264')"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case initCmd.Happened():
		err = runSample(ctx, initDev.params(), true, nil)
	case loginCmd.Happened():
		params := loginDev.params()
		params.Onvif = *loginOnvif
		err = runSample(ctx, params, false, nil)
	case realPlayCmd.Happened():
		err = runSample(ctx, realPlayDev.params(), true, func(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID) (func(), error) {
			return realPlaySample(ctx, client, loginID, *realPlayChannel, *realPlayType)
		})
	case recordCmd.Happened():
		err = runSample(ctx, recordDev.params(), true, func(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID) (func(), error) {
			return recordSample(ctx, client, loginID, *recordChannel, *recordDir, *recordFFmpeg)
		})
	case downloadFileCmd.Happened():
		err = runSample(ctx, downloadFileDev.params(), true, func(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID) (func(), error) {
			return downloadFileSample(ctx, client, loginID, *downloadFileChannel, *downloadFileStart, *downloadFileStop, *downloadFileIndex, *downloadFileSaved)
		})
	case downloadTimeCmd.Happened():
		err = runSample(ctx, downloadTimeDev.params(), true, func(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID) (func(), error) {
			return downloadTimeSample(ctx, client, loginID, *downloadTimeChannel, *downloadTimeStart, *downloadTimeStop, *downloadTimeSaved)
		})
	case convertCmd.Happened():
		err = convertSample(ctx, *convertFFmpeg, *convertFormat, *convertSrc, *convertDst)
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// sampleRun does the sample's work after login. Returned function is called on exit before logout
type sampleRun func(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID) (func(), error)

// runSample is Init, Run and End of every sample
func runSample(ctx context.Context, params netsdk.LoginParams, retryLogin bool, run sampleRun) error {
	client := netsdk.NewClient()
	err := client.Init(func(loginID netsdk.LoginID, ip string, port int) {
		fmt.Printf("Device disconnected: login[0x%x] ip[%s] port[%d]\n", int64(loginID), ip, port)
	})
	if err != nil {
		return withLastError(client, err)
	}
	defer func() {
		client.Cleanup()
		fmt.Println("Cleanup finished")
	}()
	fmt.Print(versionLine())
	client.SetAutoReconnect(func(loginID netsdk.LoginID, ip string, port int) {
		fmt.Printf("Device reconnected: login[0x%x] ip[%s] port[%d]\n", int64(loginID), ip, port)
	})
	client.SetConnectTime(5*time.Second, 3)
	client.SetNetworkParam(netsdk.NetParam{ConnectTime: 3 * time.Second})

	var loginID netsdk.LoginID
	var info netsdk.DeviceInfo
	if retryLogin {
		loginID, info, err = client.LoginLoop(ctx, params, time.Second)
	} else {
		loginID, info, err = client.LoginWithHighLevelSecurity(ctx, params)
	}
	if err != nil {
		return withLastError(client, err)
	}
	fmt.Printf("Login %s[%d] success\n", params.IP, params.Port)
	fmt.Printf("Serial: %s, type: %s, channels: %d, version: %s\n", info.SerialNumber, info.DeviceType, info.ChannelCount, info.SoftwareVersion)
	if info.Manufacturer != "" {
		fmt.Printf("ONVIF: %s %s (firmware %s)\n", info.Manufacturer, info.Model, info.Firmware)
	}
	defer func() {
		if err := client.Logout(loginID); err != nil {
			fmt.Println(withLastError(client, err))
			return
		}
		fmt.Println("Logout success")
	}()

	if run != nil {
		finish, err := run(ctx, client, loginID)
		if err != nil {
			return withLastError(client, err)
		}
		if finish != nil {
			defer finish()
		}
	}
	waitForExit(ctx)
	return nil
}

// withLastError appends with last error code of the client
func versionLine() string {
	return fmt.Sprintf("NetSDK version is [%d]\n", netsdk.Version())
}

func withLastError(client *netsdk.Client, err error) error {
	return fmt.Errorf("%w. Last Error[%x]", err, uint32(client.LastError()))
}

// waitForExit blocks until Enter is pressed or signal is captured
func waitForExit(ctx context.Context) {
	fmt.Println("Press Enter to exit")
	enter := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(enter)
	}()
	select {
	case <-enter:
	case <-ctx.Done():
	}
}

func realPlaySample(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID, channel int, typeName string) (func(), error) {
	playType, _ := netsdk.NewRealPlayTypeFrom(typeName)
	playID, err := client.RealPlayEx(ctx, loginID, channel, playType)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Real play started, handle %d\n", int64(playID))
	var received atomic.Int64
	err = client.SetRealDataCallback(playID, func(playID netsdk.PlayID, dataType netsdk.DataType, buf []byte) {
		received.Add(int64(len(buf)))
	})
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("Received: %d bytes\n", received.Load())
			}
		}
	}()
	return func() {
		ticker.Stop()
		if err := client.StopRealPlay(playID); err != nil {
			fmt.Println(withLastError(client, err))
			return
		}
		fmt.Println("Real play stopped")
	}, nil
}

func recordSample(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID, channel int, dir, ffmpegPath string) (func(), error) {
	playID, err := client.RealPlayEx(ctx, loginID, channel, netsdk.RealPlayMain)
	if err != nil {
		return nil, err
	}
	// Codec data comes with the first packets
	time.Sleep(time.Second)
	started := time.Now()
	tempFile := filepath.Join(dir, "temp.ts")
	if err := client.SaveRealData(playID, tempFile); err != nil {
		client.StopRealPlay(playID)
		return nil, err
	}
	fmt.Printf("Recording into '%s'\n", tempFile)
	return func() {
		defer client.StopRealPlay(playID)
		if err := client.StopSaveRealData(playID); err != nil {
			fmt.Println(withLastError(client, err))
			return
		}
		converter := convert.NewConverter()
		converter.FFmpegPath = ffmpegPath
		if err := converter.Convert(context.Background(), tempFile, filepath.Join(dir, "temp.mp4"), nil); err != nil {
			fmt.Println("Convert failed:", err)
			return
		}
		files, err := convert.RenamePair(dir, "temp", started, ".ts", ".mp4")
		if err != nil {
			fmt.Println("Rename failed:", err)
			return
		}
		fmt.Println("Saved:", files)
	}, nil
}

func parseRange(start, stop string) (netsdk.NetTime, netsdk.NetTime, error) {
	startTime, err := netsdk.ParseNetTime(start)
	if err != nil {
		return netsdk.NetTime{}, netsdk.NetTime{}, err
	}
	stopTime, err := netsdk.ParseNetTime(stop)
	if err != nil {
		return netsdk.NetTime{}, netsdk.NetTime{}, err
	}
	return startTime, stopTime, nil
}

func downloadFileSample(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID, channel int, start, stop string, index int, savedFile string) (func(), error) {
	startTime, stopTime, err := parseRange(start, stop)
	if err != nil {
		return nil, err
	}
	files, err := client.QueryRecordFiles(ctx, loginID, channel, netsdk.RecordTypeAll, startTime, stopTime, netsdk.MaxRecordFileCount)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Found %d files\n", len(files))
	for i, file := range files {
		fmt.Printf("[%d] %s - %s %d bytes %s\n", i, file.StartTime, file.EndTime, file.Size, file.FileName)
	}
	if index < 0 || index >= len(files) {
		return nil, fmt.Errorf("no file with index %d", index)
	}
	downloadID, err := client.DownloadByRecordFile(ctx, loginID, files[index], savedFile, func(downloadID netsdk.DownloadID, total, downloaded int64) {
		switch downloaded {
		case netsdk.DownloadPosDone:
			fmt.Println("Download finished")
		case netsdk.DownloadPosWriteFail:
			fmt.Println("Download failed")
		default:
			fmt.Printf("Downloaded %d of %d bytes\n", downloaded, total)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	return func() {
		client.StopDownload(downloadID)
	}, nil
}

func downloadTimeSample(ctx context.Context, client *netsdk.Client, loginID netsdk.LoginID, channel int, start, stop, savedFile string) (func(), error) {
	startTime, stopTime, err := parseRange(start, stop)
	if err != nil {
		return nil, err
	}
	var done atomic.Bool
	downloadID, err := client.DownloadByTime(ctx, loginID, channel, netsdk.RecordTypeAll, startTime, stopTime, savedFile, func(downloadID netsdk.DownloadID, total, downloaded int64, index int, info netsdk.RecordFileInfo) {
		if downloaded == netsdk.DownloadPosDone || downloaded == netsdk.DownloadPosWriteFail {
			done.Store(true)
		}
	}, nil)
	if err != nil {
		return nil, err
	}
	for !done.Load() {
		select {
		case <-ctx.Done():
			client.StopDownload(downloadID)
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		total, downloaded, _, err := client.DownloadPos(downloadID)
		if err != nil {
			break
		}
		fmt.Printf("Downloading:%d%%!\n", netsdk.DownloadPercent(total, downloaded))
	}
	fmt.Println("Download finished")
	return func() {
		client.StopDownload(downloadID)
	}, nil
}

func convertSample(ctx context.Context, ffmpegPath, format, src, dst string) error {
	converter := convert.NewConverter()
	converter.FFmpegPath = ffmpegPath
	converter.InputFormat = format
	job, err := converter.StartConvert(src, dst)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return job.StopConvert()
		case <-job.Done():
			if err := job.Wait(); err != nil {
				return err
			}
			fmt.Printf("Converted '%s' into '%s'\n", src, dst)
			return nil
		case <-ticker.C:
			fed, total := job.Progress()
			fmt.Printf("Converting:%d%%!\n", netsdk.DownloadPercent(total, fed))
		}
	}
}
