package scpi

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve answers a handful of queries on a loopback listener. Lines ending in
// "SLOW?" are swallowed so that the client runs into its read deadline.
func serve(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "*IDN?":
				conn.Write([]byte("Keysight Technologies,N9952A,MY1234,A.10.17\n"))
			case strings.HasSuffix(line, "*OPC?"):
				conn.Write([]byte("+1\n"))
			case strings.HasSuffix(line, "SLOW?"):
			case strings.HasSuffix(line, "?"):
				conn.Write([]byte("0\n"))
			}
		}
	}()
	return l.Addr().String()
}

func TestParseVISA(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "TCPIP0::169.254.15.18::inst0::INSTR", want: "169.254.15.18:5025"},
		{in: "TCPIP::10.0.0.5::5025::SOCKET", want: "10.0.0.5:5025"},
		{in: "TCPIP::10.0.0.5::6000::SOCKET", want: "10.0.0.5:6000"},
		{in: "fieldfox.lan:5025", want: "fieldfox.lan:5025"},
		{in: "GPIB0::16::INSTR", wantErr: true},
		{in: "TCPIP0::::inst0::INSTR", wantErr: true},
		{in: "fieldfox.lan", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseVISA(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestTCPQuery(t *testing.T) {
	addr := serve(t)
	ch, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	idn, err := ch.Query("*IDN?")
	require.NoError(t, err)
	assert.Equal(t, "Keysight Technologies,N9952A,MY1234,A.10.17", idn)

	require.NoError(t, ch.Write("*IDN?"))
	idn, err = ch.Read()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(idn, "Keysight"))
	require.NoError(t, ch.Clear())
}

func TestTCPTimeout(t *testing.T) {
	addr := serve(t)
	ch, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	ch.SetTimeout(50 * time.Millisecond)
	_, err = ch.Query("SENS:SWE:SLOW?")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTCPClosed(t *testing.T) {
	addr := serve(t)
	ch, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err = ch.Query("*IDN?")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.Write("*CLS"), ErrClosed)
}

func TestOPC(t *testing.T) {
	addr := serve(t)
	ch, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, OPC(ch, "SYST:PRES", 5*time.Second))
	assert.Equal(t, time.Second, ch.Timeout(), "handshake timeout must be restored")
	require.NoError(t, OPC(ch, "INIT:CONT OFF", 0))
}
