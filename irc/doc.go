// Package irc is the connection engine of an IRC chat client.
//
// A Connection connects through a Transport, waits for the outcome and then
// installs a set of managers, each of which is a Listener registered with the
// transport:
//
//   - IdentityManager tracks how the server sees the local user
//   - MessageManager sends and receives PRIVMSG, NOTICE and CTCP ACTION
//   - ChannelManager joins channels and tracks topics and members
//   - PresenceManager tracks away state and watched nicknames
//   - ServerChannelLister queries and caches the server's channel list
//
// Every listener removes itself exactly once when the local user quits or
// the server reports an ERROR. The server listener then tells the Connection,
// which calls the interrupt handler unless the caller disconnected.
//
// Basic usage:
//
//	conn, err := irc.New(irc.NewGircTransport(logger), irc.DefaultClientConfig(),
//		irc.WithLogger(logger),
//		irc.WithInterruptHandler(func(c *irc.Connection) { reconnect() }),
//	)
//	if err != nil {
//		return err
//	}
//	err = conn.Connect(ctx, irc.ServerParameters{
//		Host: "irc.libera.chat",
//		Port: 6697,
//		Secure: true,
//		Nick: "jitsi",
//		User: "jitsi",
//		RealName: "Jitsi",
//	})
//	...
//	conn.Messages().Message(ctx, "#go-nuts", "hello")
package irc
